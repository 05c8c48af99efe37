package scrape

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/ratelimit"
)

// PageConfig configures a PageSource
type PageConfig struct {
	Name    string
	Classes []asset.Class
	// Unit converts the raw page value, e.g. thousand VND per chỉ.
	Unit      fetcher.Unit
	Targets   map[string]Target
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// PageSource fetches a static HTML page per asset and extracts the price
// next to the asset's configured label.
type PageSource struct {
	cfg      PageConfig
	client   *resty.Client
	limiter  *ratelimit.Limiter
	matchers map[string]*Matcher
	now      func() time.Time
}

// NewPageSource creates a markup-scrape source. Every target is compiled up front.
func NewPageSource(cfg PageConfig, limiter *ratelimit.Limiter) (*PageSource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("scrape source needs a name")
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = []asset.Class{asset.ClassGold}
	}

	matchers := make(map[string]*Matcher, len(cfg.Targets))
	for code, t := range cfg.Targets {
		if t.URL == "" {
			return nil, fmt.Errorf("%s: target %s has no url", cfg.Name, code)
		}
		m, err := Compile(t)
		if err != nil {
			return nil, fmt.Errorf("%s: target %s: %w", cfg.Name, code, err)
		}
		matchers[code] = m
	}

	client := fetcher.NewHTTPClient(fetcher.HTTPOptions{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "vi-VN,vi;q=0.9,en;q=0.8",
		},
		Transport: cfg.Transport,
	})

	return &PageSource{
		cfg:      cfg,
		client:   client,
		limiter:  limiter,
		matchers: matchers,
		now:      time.Now,
	}, nil
}

// Name implements fetcher.Source
func (s *PageSource) Name() string { return s.cfg.Name }

// Supports implements fetcher.Source
func (s *PageSource) Supports(c asset.Class) bool {
	for _, sc := range s.cfg.Classes {
		if sc == c {
			return true
		}
	}
	return false
}

// Fetch downloads the asset's page and extracts its price.
func (s *PageSource) Fetch(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
	m, ok := s.matchers[d.Code]
	if !ok {
		return fetcher.Observation{}, fetcher.NewParseError(fmt.Sprintf("no target configured for %s", d.Code), nil).WithProvider(s.cfg.Name)
	}

	if err := s.limiter.Wait(ctx, s.cfg.Name); err != nil {
		return fetcher.Observation{}, fetcher.NewTransportError(err).WithProvider(s.cfg.Name)
	}

	observedAt := s.now()
	resp, err := s.client.R().
		SetContext(ctx).
		Get(s.cfg.Targets[d.Code].URL)
	if fe := fetcher.CheckResponse(resp, err); fe != nil {
		return fetcher.Observation{}, fe.WithProvider(s.cfg.Name)
	}

	raw, err := m.Find(resp.String())
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
