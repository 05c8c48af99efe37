package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/ratelimit"
	"pricecollector/internal/scrape"
)

// SourceConfig configures a browser-backed Source
type SourceConfig struct {
	Name    string
	Classes []asset.Class
	Unit    fetcher.Unit
	Targets map[string]scrape.Target
}

// Source renders an asset's page in a pooled browser session and extracts
// the price with the markup-scrape rules.
type Source struct {
	cfg      SourceConfig
	pool     *Pool
	limiter  *ratelimit.Limiter
	matchers map[string]*scrape.Matcher
	now      func() time.Time
}

// NewSource creates a browser source drawing sessions from pool.
func NewSource(cfg SourceConfig, pool *Pool, limiter *ratelimit.Limiter) (*Source, error) {
	if cfg.Name == "" {
		return nil, errors.New("browser source needs a name")
	}
	if pool == nil {
		return nil, fmt.Errorf("%s: no browser pool", cfg.Name)
	}

	matchers := make(map[string]*scrape.Matcher, len(cfg.Targets))
	for code, t := range cfg.Targets {
		if t.URL == "" {
			return nil, fmt.Errorf("%s: target %s has no url", cfg.Name, code)
		}
		m, err := scrape.Compile(t)
		if err != nil {
			return nil, fmt.Errorf("%s: target %s: %w", cfg.Name, code, err)
		}
		matchers[code] = m
	}

	return &Source{
		cfg:      cfg,
		pool:     pool,
		limiter:  limiter,
		matchers: matchers,
		now:      time.Now,
	}, nil
}

// Name implements fetcher.Source
func (s *Source) Name() string { return s.cfg.Name }

// Supports implements fetcher.Source
func (s *Source) Supports(c asset.Class) bool {
	for _, sc := range s.cfg.Classes {
		if sc == c {
			return true
		}
	}
	return false
}

// Fetch implements fetcher.Source. The session is released before Fetch
// returns, whether or not extraction succeeded.
func (s *Source) Fetch(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
	m, ok := s.matchers[d.Code]
	if !ok {
		return fetcher.Observation{}, fetcher.NewParseError(fmt.Sprintf("no target configured for %s", d.Code), nil).WithProvider(s.cfg.Name)
	}
	if err := s.limiter.Wait(ctx, s.cfg.Name); err != nil {
		return fetcher.Observation{}, fetcher.NewTransportError(err).WithProvider(s.cfg.Name)
	}

	observedAt := s.now()
	var raw decimal.Decimal
	err := s.pool.With(ctx, func(session Session) error {
		html, err := session.HTML(ctx, s.cfg.Targets[d.Code].URL)
		if err != nil {
			return fetcher.NewTransportError(err)
		}
		raw, err = m.Find(html)
		return err
	})
	if err != nil {
		return fetcher.Observation{}, fetcher.AsFetchError(err).WithProvider(s.cfg.Name)
	}

	return fetcher.Observation{
		AssetCode:  d.Code,
		Price:      s.cfg.Unit.Normalize(raw),
		Provider:   s.cfg.Name,
		ObservedAt: observedAt,
	}, nil
}
