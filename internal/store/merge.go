package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricecollector/internal/logger"
)

// Backend is the physical medium of the collection.
type Backend interface {
	// Load returns the persisted keys for dates. No dates loads every key.
	Load(ctx context.Context, dates []string) (KeySet, error)
	// Apply appends the inserts and rewrites the updated rows in place.
	// It never deletes or reorders existing rows.
	Apply(ctx context.Context, changes Changes) error
}

// Merger is the only writer of a collection.
type Merger struct {
	backend Backend
	locker  Locker
	log     *logger.Logger

	mu sync.Mutex
}

// MergerOption configures a Merger
type MergerOption func(*Merger)

// WithLocker adds a cross-process lock around each merge.
func WithLocker(l Locker) MergerOption {
	return func(m *Merger) { m.locker = l }
}

// WithLogger sets the merger's logger
func WithLogger(l *logger.Logger) MergerOption {
	return func(m *Merger) { m.log = l }
}

// NewMerger creates a merger writing through backend.
func NewMerger(backend Backend, opts ...MergerOption) *Merger {
	m := &Merger{backend: backend, log: logger.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge writes batch under policy as one critical section: the existing keys
// are read, the changes planned and applied while the lock is held.
// Any error means the collection could not be written and is fatal for the run.
func (m *Merger) Merge(ctx context.Context, batch []Record, policy Policy) (res Result, err error) {
	if len(batch) == 0 {
		return Result{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locker != nil {
		waited := time.Now()
		unlock, lerr := m.locker.Lock(ctx)
		if lerr != nil {
			return Result{}, fmt.Errorf("acquire merge lock: %w", lerr)
		}
		m.log.Debug("merge lock acquired", logger.Duration("waited", time.Since(waited)))
		defer func() {
			if uerr := unlock(); uerr != nil {
				err = errors.Join(err, fmt.Errorf("release merge lock: %w", uerr))
			}
		}()
	}

	existing, err := m.backend.Load(ctx, Dates(batch))
	if err != nil {
		return Result{}, fmt.Errorf("load existing keys: %w", err)
	}

	changes, res := Plan(existing, batch, policy)
	if changes.Empty() {
		m.log.Info("nothing to write", logger.Int("skipped", res.Skipped), logger.String("policy", string(policy)))
		return res, nil
	}

	if err := m.backend.Apply(ctx, changes); err != nil {
		return Result{}, fmt.Errorf("write collection: %w", err)
	}

	m.log.Info("merged batch",
		logger.String("policy", string(policy)),
		logger.Int("inserted", res.Inserted),
		logger.Int("updated", res.Updated),
		logger.Int("skipped", res.Skipped),
	)
	return res, nil
}
