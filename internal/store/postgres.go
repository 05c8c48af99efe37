package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresBackend keeps the collection in a table keyed by (date, asset_code).
// It is also a Locker through a session advisory lock.
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
	// lockID is derived from the table name so that every run writing the
	// same table contends for the same advisory lock.
	lockID int64
}

// ConnectPostgres opens a pool for dsn and makes sure table exists.
func ConnectPostgres(ctx context.Context, dsn, table string, maxConns int) (*PostgresBackend, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := NewPostgresBackend(pool, table)
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend wraps an existing pool.
func NewPostgresBackend(pool *pgxpool.Pool, table string) *PostgresBackend {
	if table == "" {
		table = "daily_prices"
	}
	h := fnv.New64a()
	h.Write([]byte("pricecollector:" + table))
	return &PostgresBackend{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		lockID: int64(h.Sum64()),
	}
}

// EnsureSchema creates the table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			date        DATE        NOT NULL,
			asset_code  TEXT        NOT NULL,
			price       NUMERIC     NOT NULL CHECK (price > 0),
			asset_name  TEXT        NOT NULL DEFAULT '',
			asset_type  TEXT        NOT NULL DEFAULT '',
			currency    TEXT        NOT NULL DEFAULT 'VND',
			source      TEXT        NOT NULL,
			crawl_time  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (date, asset_code)
		)`, b.table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", b.table, err)
	}
	return nil
}

// Load implements Backend
func (b *PostgresBackend) Load(ctx context.Context, dates []string) (KeySet, error) {
	query := fmt.Sprintf(`SELECT to_char(date, 'YYYY-MM-DD'), asset_code, price::text FROM %s`, b.table)
	var args []any
	if len(dates) > 0 {
		query += ` WHERE date = ANY($1::date[])`
		args = append(args, dates)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", b.table, err)
	}
	defer rows.Close()

	keys := make(KeySet)
	for rows.Next() {
		var k Key
		var price string
		if err := rows.Scan(&k.Date, &k.AssetCode, &price); err != nil {
			return nil, fmt.Errorf("scan %s: %w", b.table, err)
		}
		keys[k], _ = decimal.NewFromString(price)
	}
	return keys, rows.Err()
}

// Apply implements Backend. Inserts and updates commit together.
func (b *PostgresBackend) Apply(ctx context.Context, changes Changes) error {
	if changes.Empty() {
		return nil
	}

	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range changes.Inserts {
			batch.Queue(fmt.Sprintf(`
				INSERT INTO %s (date, asset_code, price, asset_name, asset_type, currency, source, crawl_time)
				VALUES ($1::date, $2, $3::numeric, $4, $5, $6, $7, $8)
				ON CONFLICT (date, asset_code) DO NOTHING
			`, b.table), r.Date, r.AssetCode, r.Price.String(), r.AssetName, r.AssetClass, r.Currency, r.Source, r.CrawlTime)
		}
		for _, r := range changes.Updates {
			batch.Queue(fmt.Sprintf(`
				UPDATE %s SET price = $3::numeric, source = $4, crawl_time = $5
				WHERE date = $1::date AND asset_code = $2
			`, b.table), r.Date, r.AssetCode, r.Price.String(), r.Source, r.CrawlTime)
		}

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("write %s: %w", b.table, err)
			}
		}
		return results.Close()
	})
}

// Lock implements Locker with pg_advisory_lock held on one pooled connection.
func (b *PostgresBackend) Lock(ctx context.Context) (func() error, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, b.lockID); err != nil {
		conn.Release()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: advisory lock %d: %w", ErrLockTimeout, b.lockID, ctx.Err())
		}
		return nil, fmt.Errorf("advisory lock %d: %w", b.lockID, err)
	}

	return func() error {
		defer conn.Release()
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(uctx, `SELECT pg_advisory_unlock($1)`, b.lockID); err != nil {
			return fmt.Errorf("advisory unlock %d: %w", b.lockID, err)
		}
		return nil
	}, nil
}

// Close closes the pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}
