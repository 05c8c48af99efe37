// Package app wires configured sources, chains and the merge store into one
// collection run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pricecollector/internal/asset"
	"pricecollector/internal/browser"
	"pricecollector/internal/config"
	"pricecollector/internal/coordinator"
	"pricecollector/internal/fallback"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/fmarket"
	"pricecollector/internal/logger"
	"pricecollector/internal/ratelimit"
	"pricecollector/internal/report"
	"pricecollector/internal/retry"
	"pricecollector/internal/scrape"
	"pricecollector/internal/store"
	"pricecollector/internal/vndirect"
)

// Modes select which sources a run may use.
const (
	ModeCheap = "cheap"
	ModeFull  = "full"
)

// staleLock is the age after which a lockfile left by a crashed run is broken.
const staleLock = 30 * time.Minute

// App holds everything that outlives a single run.
type App struct {
	cfg     *config.Config
	log     *logger.Logger
	loc     *time.Location
	limiter *ratelimit.Limiter
	policy  retry.Policy

	sources map[string]fetcher.Source
	chains  map[asset.Class][]string
	pool    *browser.Pool
	merger  *store.Merger

	closers []func() error
	now     func() time.Time
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	transport http.RoundTripper
	launcher  browser.Launcher
	now       func() time.Time
}

// WithTransport routes every HTTP source through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *buildOptions) { o.transport = rt }
}

// WithLauncher replaces the headless Chrome launcher of browser sources.
func WithLauncher(l browser.Launcher) Option {
	return func(o *buildOptions) { o.launcher = l }
}

// WithClock overrides the clock deciding the default run date.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) { o.now = now }
}

// Build constructs the sources, the retry policy and the merge store described
// by cfg. Nothing is fetched until Run. Close releases what Build opened.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	o := buildOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		loc:     cfg.Location(),
		limiter: ratelimit.New(nil),
		sources: make(map[string]fetcher.Source, len(cfg.Sources)),
		chains:  make(map[asset.Class][]string, len(cfg.Chains)),
		now:     o.now,
	}

	policy, err := retryPolicy(cfg.Retry, log)
	if err != nil {
		return nil, err
	}
	a.policy = policy

	for class, names := range cfg.Chains {
		c, err := asset.ParseClass(class)
		if err != nil {
			return nil, fmt.Errorf("chains: %w", err)
		}
		a.chains[c] = names
	}

	if err := a.buildSources(o); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func retryPolicy(rc config.RetryConfig, log *logger.Logger) (retry.Policy, error) {
	kinds := make([]fetcher.Kind, 0, len(rc.Retryable))
	for _, k := range rc.Retryable {
		kinds = append(kinds, fetcher.Kind(k))
	}
	if rc.Attempts < 1 {
		return retry.Policy{}, fmt.Errorf("retry.attempts must be at least 1, got %d", rc.Attempts)
	}
	return retry.Policy{
		MaxAttempts: rc.Attempts,
		Backoff:     rc.Backoff,
		MaxBackoff:  rc.MaxBackoff,
		Exponential: rc.Exponential,
		Jitter:      rc.Jitter,
		Retryable:   retry.Kinds(kinds...),
		Logger:      log,
	}, nil
}

func (a *App) buildSources(o buildOptions) error {
	for name, sc := range a.cfg.Sources {
		classes := make([]asset.Class, 0, len(sc.Classes))
		for _, s := range sc.Classes {
			c, err := asset.ParseClass(s)
			if err != nil {
				return fmt.Errorf("sources.%s: %w", name, err)
			}
			classes = append(classes, c)
		}

		rate := sc.Rate
		if rate < 0 {
			rate = 0
		}
		a.limiter.Set(name, rate)

		var (
			src fetcher.Source
			err error
		)
		switch sc.Type {
		case config.TypeVNDirect:
			src = vndirect.New(vndirect.Config{
				Name:      name,
				BaseURL:   sc.BaseURL,
				Classes:   classes,
				Unit:      sc.Unit,
				Lookback:  sc.Lookback,
				Location:  a.loc,
				Timeout:   sc.Timeout,
				Transport: o.transport,
			}, a.limiter)
		case config.TypeFmarket:
			src = fmarket.New(fmarket.Config{
				Name:      name,
				BaseURL:   sc.BaseURL,
				Unit:      sc.Unit,
				TTL:       sc.TTL,
				Location:  a.loc,
				Timeout:   sc.Timeout,
				Transport: o.transport,
			}, a.limiter)
		case config.TypeScrape:
			src, err = scrape.NewPageSource(scrape.PageConfig{
				Name:      name,
				Classes:   classes,
				Unit:      sc.Unit,
				Targets:   sc.Targets,
				Timeout:   sc.Timeout,
				Transport: o.transport,
			}, a.limiter)
		case config.TypeBrowser:
			src, err = browser.NewSource(browser.SourceConfig{
				Name:    name,
				Classes: classes,
				Unit:    sc.Unit,
				Targets: sc.Targets,
			}, a.browserPool(o), a.limiter)
		default:
			err = fmt.Errorf("unknown source type %q", sc.Type)
		}
		if err != nil {
			return fmt.Errorf("sources.%s: %w", name, err)
		}
		a.sources[name] = src
	}
	return nil
}

// browserPool creates the shared session pool on first use. Chrome itself
// starts only when a session is first opened, so cheap runs never launch it.
func (a *App) browserPool(o buildOptions) *browser.Pool {
	if a.pool != nil {
		return a.pool
	}
	launcher := o.launcher
	if launcher == nil {
		launcher = browser.NewChromeLauncher(browser.ChromeConfig{
			ExecPath: a.cfg.Browser.ExecPath,
			Headless: a.cfg.Browser.Headless,
			Settle:   a.cfg.Browser.Settle,
			Width:    a.cfg.Browser.Width,
			Height:   a.cfg.Browser.Height,
			Logger:   a.log,
		})
	}
	a.pool = browser.NewPool(launcher, a.cfg.Browser.PoolSize)
	a.closers = append(a.closers, a.pool.Close)
	return a.pool
}

func (a *App) buildStore(ctx context.Context) error {
	sc := a.cfg.Store

	var (
		backend store.Backend
		pg      *store.PostgresBackend
	)
	switch sc.Backend {
	case "csv":
		backend = store.NewCSVBackend(sc.Path)
	case "postgres":
		var err error
		pg, err = store.ConnectPostgres(ctx, sc.Postgres.DSN, sc.Postgres.Table, sc.Postgres.MaxConns)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		backend = pg
	default:
		return fmt.Errorf("unknown store backend %q", sc.Backend)
	}

	var locker store.Locker
	switch sc.Lock {
	case "file":
		path := sc.Path
		if path == "" {
			path = filepath.Join("data", "daily_prices.csv")
		}
		locker = &store.FileLock{Path: path + ".lock", Stale: staleLock}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		locker = &store.RedisLock{Client: client, Key: sc.Redis.Key, TTL: sc.Redis.TTL}
	case "postgres":
		if pg == nil {
			return errors.New("store.lock postgres needs the postgres backend")
		}
		locker = pg
	case "none":
	default:
		return fmt.Errorf("unknown store lock %q", sc.Lock)
	}

	mopts := []store.MergerOption{store.WithLogger(a.log)}
	if locker != nil {
		mopts = append(mopts, store.WithLocker(timedLocker{Locker: locker, timeout: sc.LockTimeout}))
	}
	a.merger = store.NewMerger(backend, mopts...)
	return nil
}

// timedLocker bounds how long a run waits for the merge lock.
type timedLocker struct {
	store.Locker
	timeout time.Duration
}

func (l timedLocker) Lock(ctx context.Context) (func() error, error) {
	if l.timeout <= 0 {
		return l.Locker.Lock(ctx)
	}
	lctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.Locker.Lock(lctx)
}

// Options parameterise one run. Zero values fall back to the configuration.
type Options struct {
	Mode   string
	Policy string
	// RunDate is the collection date. Zero means today in the exchange timezone.
	RunDate time.Time
	// Universe replaces the configured asset file.
	Universe []asset.Descriptor
}

// Run collects the universe once, merges the batch into the store and
// returns the report. Per-asset failures are part of the report; an error is
// returned only for configuration, universe, cancellation or persistence failures.
func (a *App) Run(ctx context.Context, opts Options) (*report.Report, error) {
	runID := uuid.NewString()
	log := a.log.With(logger.String("run_id", runID))
	started := a.now()

	mode := opts.Mode
	if mode == "" {
		mode = a.cfg.Run.Mode
	}
	if mode != ModeCheap && mode != ModeFull {
		return nil, fmt.Errorf("unknown mode %q (want cheap or full)", mode)
	}

	policyName := opts.Policy
	if policyName == "" {
		policyName = a.cfg.Run.Policy
	}
	policy, err := store.ParsePolicy(policyName)
	if err != nil {
		return nil, err
	}

	runDate := a.runDate(opts.RunDate)

	universe := opts.Universe
	if universe == nil {
		universe, err = asset.LoadFile(a.cfg.Assets)
		if err != nil {
			return nil, err
		}
	}

	var disabled map[string]bool
	if mode == ModeCheap {
		disabled = a.cfg.BrowserSources()
	}
	chains, err := fallback.BuildChains(a.chains, a.sources, disabled)
	if err != nil {
		return nil, fmt.Errorf("build chains: %w", err)
	}
	for _, c := range classesOf(universe) {
		if len(chains[c]) == 0 {
			log.Warn("no sources configured for class", logger.String("class", string(c)))
		}
	}

	log.Info("run started",
		logger.String("mode", mode),
		logger.String("policy", string(policy)),
		logger.String("run_date", runDate.Format(store.DateLayout)),
	)

	resolver := fallback.NewResolver(chains, a.policy, log)
	coord := coordinator.New(resolver,
		coordinator.WithConcurrency(a.cfg.Run.Concurrency),
		coordinator.WithFetchTimeout(a.cfg.Run.FetchTimeout),
		coordinator.WithLogger(log),
	)

	batch, err := coord.Run(ctx, universe, runDate)
	if err != nil {
		return nil, err
	}

	merged, err := a.merger.Merge(ctx, batch.Records(), policy)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	rep := report.Build(report.Meta{
		RunID:     runID,
		Mode:      mode,
		Policy:    policy,
		StartedAt: started,
	}, batch, merged)
	rep.Log(log)

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := rep.WriteMetrics(path); err != nil {
			log.Warn("write metrics failed", logger.String("path", path), logger.Error(err))
		}
	}
	return rep, nil
}

// runDate truncates d, or now, to midnight in the exchange timezone.
func (a *App) runDate(d time.Time) time.Time {
	if d.IsZero() {
		d = a.now()
	}
	d = d.In(a.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, a.loc)
}

func classesOf(universe []asset.Descriptor) []asset.Class {
	var classes []asset.Class
	seen := make(map[asset.Class]bool)
	for _, d := range universe {
		if !seen[d.Class] {
			seen[d.Class] = true
			classes = append(classes, d.Class)
		}
	}
	return classes
}

// Sources returns the configured sources by name.
func (a *App) Sources() map[string]fetcher.Source {
	return a.sources
}

// Close releases the browser, database and Redis connections in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
