package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/logger"
	"pricecollector/internal/store"
)

// DefaultConcurrency is the number of assets resolved at once.
const DefaultConcurrency = 4

// Resolver produces one observation per asset or a terminal failure.
type Resolver interface {
	Resolve(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error)
}

// Coordinator drives the asset universe through the resolver and collects one batch
type Coordinator struct {
	resolver     Resolver
	concurrency  int
	fetchTimeout time.Duration
	log          *logger.Logger
	now          func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithConcurrency bounds how many assets are resolved at once
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithFetchTimeout bounds the fetch phase of a run. Assets still in flight
// when it expires fail with a transport error; the rest of the batch is kept.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.fetchTimeout = d }
}

// WithLogger sets the coordinator's logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a new Coordinator resolving assets through resolver
func New(resolver Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver:    resolver,
		concurrency: DefaultConcurrency,
		log:         logger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run resolves every asset of universe independently and returns the batch
// once all of them have succeeded or failed. Records are dated runDate.
// One asset's failure never affects another; only an empty universe or the
// cancellation of ctx abort the run.
func (c *Coordinator) Run(ctx context.Context, universe []asset.Descriptor, runDate time.Time) (*Batch, error) {
	if len(universe) == 0 {
		return nil, asset.ErrEmptyUniverse
	}

	batch := &Batch{
		RunDate:   runDate.Format(store.DateLayout),
		StartedAt: c.now(),
		Outcomes:  make([]Outcome, len(universe)),
	}

	fetchCtx := ctx
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	c.log.Info("collecting prices",
		logger.String("run_date", batch.RunDate),
		logger.Int("assets", len(universe)),
		logger.Int("concurrency", c.concurrency),
	)

	// each worker writes only its own slot
	p := pool.New().WithMaxGoroutines(c.concurrency)
	for i, d := range universe {
		p.Go(func() {
			batch.Outcomes[i] = c.resolve(fetchCtx, d, batch)
		})
	}
	p.Wait()
	batch.FinishedAt = c.now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run aborted: %w", err)
	}
	if fetchCtx.Err() != nil {
		c.log.Warn("fetch deadline reached, in-flight assets reported as failed",
			logger.Duration("fetch_timeout", c.fetchTimeout))
	}
	return batch, nil
}

func (c *Coordinator) resolve(ctx context.Context, d asset.Descriptor, batch *Batch) Outcome {
	started := c.now()
	out := Outcome{Asset: d}
	log := c.log.With(logger.String("asset", d.Code), logger.String("class", string(d.Class)))

	obs, err := c.resolver.Resolve(ctx, d)
	if err == nil {
		err = obs.Validate()
	}
	out.Elapsed = c.now().Sub(started)

	if err != nil {
		out.Failure = &Failure{
			AssetCode:  d.Code,
			AssetClass: d.Class,
			Kind:       fetcher.KindOf(err),
			Err:        err,
		}
		log.Warn("asset failed", logger.String("kind", string(out.Failure.Kind)), logger.Error(err))
		return out
	}

	if !obs.PriceDate.IsZero() && obs.PriceDate.Format(store.DateLayout) != batch.RunDate {
		log.Warn("source price date differs from run date",
			logger.String("provider", obs.Provider),
			logger.String("price_date", obs.PriceDate.Format(store.DateLayout)),
			logger.String("run_date", batch.RunDate),
		)
	}

	crawlTime := obs.ObservedAt
	if crawlTime.IsZero() {
		crawlTime = batch.StartedAt
	}
	out.PriceDate = obs.PriceDate
	out.Record = &store.Record{
		Date:       batch.RunDate,
		AssetCode:  d.Code,
		Price:      obs.Price,
		AssetName:  d.Name,
		AssetClass: string(d.Class),
		Currency:   d.Currency,
		Source:     obs.Provider,
		CrawlTime:  crawlTime,
	}
	log.Info("asset collected", logger.String("provider", obs.Provider), logger.Stringer("price", obs.Price))
	return out
}
