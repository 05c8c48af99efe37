package vndirect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"resty.dev/v3"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/ratelimit"
)

const (
	// DefaultBaseURL is the public VNDirect chart API
	DefaultBaseURL = "https://dchart-api.vndirect.com.vn"

	historyPath = "/dchart/history"

	// Documented paths of the daily history body: parallel arrays of
	// timestamps (t) and closes (c); the last element is the latest session.
	closePath = "$.c[-1:]"
	timePath  = "$.t[-1:]"

	defaultLookback = 30 * 24 * time.Hour
)

// Unit is the fixed VNDirect quoting unit: closes are in thousand VND.
var Unit = fetcher.Unit{Scale: 1000}

// Config configures a HistorySource
type Config struct {
	Name      string
	BaseURL   string
	Classes   []asset.Class
	Unit      fetcher.Unit
	Lookback  time.Duration
	Location  *time.Location
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// HistorySource fetches the latest daily close from the VNDirect chart API.
// It serves stocks, ETFs and exchange-listed funds.
type HistorySource struct {
	cfg     Config
	client  *resty.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// New creates a new VNDirect history source
func New(cfg Config, limiter *ratelimit.Limiter) *HistorySource {
	if cfg.Name == "" {
		cfg.Name = "vndirect"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Unit == (fetcher.Unit{}) {
		cfg.Unit = Unit
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = []asset.Class{asset.ClassStock, asset.ClassETF, asset.ClassFund}
	}

	client := fetcher.NewHTTPClient(fetcher.HTTPOptions{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Headers:   map[string]string{"Accept": "application/json"},
		Transport: cfg.Transport,
	})

	return &HistorySource{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		now:     time.Now,
	}
}

// Name implements fetcher.Source
func (s *HistorySource) Name() string { return s.cfg.Name }

// Supports implements fetcher.Source
func (s *HistorySource) Supports(c asset.Class) bool {
	for _, sc := range s.cfg.Classes {
		if sc == c {
			return true
		}
	}
	return false
}

// Fetch retrieves the latest close for the asset
func (s *HistorySource) Fetch(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
	if err := s.limiter.Wait(ctx, s.cfg.Name); err != nil {
		return fetcher.Observation{}, fetcher.NewTransportError(err).WithProvider(s.cfg.Name)
	}

	observedAt := s.now()
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"resolution": "D",
			"symbol":     d.Code,
			"from":       strconv.FormatInt(observedAt.Add(-s.cfg.Lookback).Unix(), 10),
			"to":         strconv.FormatInt(observedAt.Unix(), 10),
		}).
		Get(historyPath)
	if fe := fetcher.CheckResponse(resp, err); fe != nil {
		return fetcher.Observation{}, fe.WithProvider(s.cfg.Name)
	}

	var body any
	if err := json.Unmarshal([]byte(resp.String()), &body); err != nil {
		return fetcher.Observation{}, fetcher.NewParseError("response is not JSON", err).WithProvider(s.cfg.Name)
	}

	closeValue, err := lastNumber(body, closePath)
	if err != nil {
		return fetcher.Observation{}, fetcher.NewParseError(fmt.Sprintf("close price not found for %s", d.Code), err).WithProvider(s.cfg.Name)
	}
	raw, err := fetcher.FloatPrice(closeValue)
	if err != nil {
		return fetcher.Observation{}, fetcher.AsFetchError(err).WithProvider(s.cfg.Name)
	}

	obs := fetcher.Observation{
		AssetCode:  d.Code,
		Price:      s.cfg.Unit.Normalize(raw),
		Provider:   s.cfg.Name,
		ObservedAt: observedAt,
	}
	if ts, err := lastNumber(body, timePath); err == nil {
		obs.PriceDate = time.Unix(int64(ts), 0).In(s.cfg.Location)
	}
	return obs, nil
}

// lastNumber evaluates a "[-1:]" slice path and returns its only element.
func lastNumber(body any, path string) (float64, error) {
	v, err := jsonpath.Get(path, body)
	if err != nil {
		return 0, err
	}
	// a slice path yields a list; keep the first answer if any
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return 0, fmt.Errorf("%s: no data", path)
		}
		v = list[0]
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: not a number: %q", path, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s: not a number: %v", path, v)
	}
}
