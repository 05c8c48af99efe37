// Package fmarket reads open-end fund NAVs from the fmarket fund listing.
// One listing request covers every fund; the rows are cached for the run
// and sliced per asset.
package fmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"resty.dev/v3"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/ratelimit"
)

const (
	// DefaultBaseURL is the fmarket public API
	DefaultBaseURL = "https://api.fmarket.vn"

	filterPath = "/res/products/filter"
	rowsPath   = "$.data.rows"

	defaultPageSize = 100
	defaultTTL      = 30 * time.Minute
)

// Config configures a ListingSource
type Config struct {
	Name      string
	BaseURL   string
	Unit      fetcher.Unit
	PageSize  int
	TTL       time.Duration
	Location  *time.Location
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

type fundRow struct {
	nav     float64
	navDate time.Time
}

// ListingSource serves fund NAVs out of one batched listing request.
type ListingSource struct {
	cfg     Config
	client  *resty.Client
	limiter *ratelimit.Limiter
	now     func() time.Time

	mu        sync.Mutex
	rows      map[string]fundRow
	fetchedAt time.Time
}

// New creates a new fmarket listing source
func New(cfg Config, limiter *ratelimit.Limiter) *ListingSource {
	if cfg.Name == "" {
		cfg.Name = "fmarket"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	client := fetcher.NewHTTPClient(fetcher.HTTPOptions{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
			"Origin":       "https://fmarket.vn",
			"Referer":      "https://fmarket.vn/",
		},
		Transport: cfg.Transport,
	})

	return &ListingSource{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		now:     time.Now,
	}
}

// Name implements fetcher.Source
func (s *ListingSource) Name() string { return s.cfg.Name }

// Supports implements fetcher.Source
func (s *ListingSource) Supports(c asset.Class) bool { return c == asset.ClassFund }

// Fetch returns the NAV of the fund whose short name matches the asset code.
func (s *ListingSource) Fetch(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
	rows, observedAt, err := s.listing(ctx)
	if err != nil {
		return fetcher.Observation{}, err
	}

	row, ok := rows[strings.ToUpper(d.Code)]
	if !ok {
		return fetcher.Observation{}, fetcher.NewParseError(fmt.Sprintf("fund %s not in listing", d.Code), nil).WithProvider(s.cfg.Name)
	}
	raw, err := fetcher.FloatPrice(row.nav)
	if err != nil {
		return fetcher.Observation{}, fetcher.AsFetchError(err).WithProvider(s.cfg.Name)
	}

	return fetcher.Observation{
		AssetCode:  d.Code,
		Price:      s.cfg.Unit.Normalize(raw),
		PriceDate:  row.navDate,
		Provider:   s.cfg.Name,
		ObservedAt: observedAt,
	}, nil
}

// listing returns the cached rows, requesting them when absent or expired.
// Concurrent callers wait for the one in-flight request. Failures are not cached.
func (s *ListingSource) listing(ctx context.Context) (map[string]fundRow, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rows != nil && s.now().Sub(s.fetchedAt) < s.cfg.TTL {
		return s.rows, s.fetchedAt, nil
	}

	if err := s.limiter.Wait(ctx, s.cfg.Name); err != nil {
		return nil, time.Time{}, fetcher.NewTransportError(err).WithProvider(s.cfg.Name)
	}

	observedAt := s.now()
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(s.filterBody()).
		Post(filterPath)
	if fe := fetcher.CheckResponse(resp, err); fe != nil {
		return nil, time.Time{}, fe.WithProvider(s.cfg.Name)
	}

	rows, err := s.parseRows(resp.String())
	if err != nil {
		return nil, time.Time{}, fetcher.AsFetchError(err).WithProvider(s.cfg.Name)
	}

	s.rows = rows
	s.fetchedAt = observedAt
	return rows, observedAt, nil
}

// Invalidate drops the cached listing.
func (s *ListingSource) Invalidate() {
	s.mu.Lock()
	s.rows = nil
	s.mu.Unlock()
}

func (s *ListingSource) filterBody() map[string]any {
	return map[string]any{
		"types":             []string{"NEW_FUND", "TRADING_FUND"},
		"issuerIds":         []int{},
		"sortOrder":         "DESC",
		"sortField":         "navTo6Months",
		"page":              1,
		"pageSize":          s.cfg.PageSize,
		"isIpo":             false,
		"fundAssetTypes":    []string{},
		"bondRemainPeriods": []string{},
		"searchField":       "",
		"isBuyByReward":     false,
		"thirdAppIds":       []string{},
	}
}

func (s *ListingSource) parseRows(body string) (map[string]fundRow, error) {
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fetcher.NewParseError("response is not JSON", err)
	}
	v, err := jsonpath.Get(rowsPath, doc)
	if err != nil {
		return nil, fetcher.NewParseError("fund rows not found", err)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fetcher.NewParseError(fmt.Sprintf("%s is not a list", rowsPath), nil)
	}

	rows := make(map[string]fundRow, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["shortName"].(string)
		nav, ok := number(m["nav"])
		if name == "" || !ok {
			continue
		}
		row := fundRow{nav: nav}
		// updateAt is epoch milliseconds when present
		if ms, ok := number(m["updateAt"]); ok && ms > 0 {
			row.navDate = time.UnixMilli(int64(ms)).In(s.cfg.Location)
		}
		rows[strings.ToUpper(strings.TrimSpace(name))] = row
	}
	return rows, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
