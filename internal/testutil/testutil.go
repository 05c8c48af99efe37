package testutil

import (
	"context"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
)

// MockSource is a mock implementation of the fetcher.Source interface for testing
type MockSource struct {
	NameValue string
	Classes   []asset.Class
	FetchFunc func(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error)

	calls atomic.Int64
}

// Name implements the fetcher.Source interface
func (m *MockSource) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

// Supports implements the fetcher.Source interface. A mock without classes supports everything.
func (m *MockSource) Supports(c asset.Class) bool {
	if len(m.Classes) == 0 {
		return true
	}
	for _, s := range m.Classes {
		if s == c {
			return true
		}
	}
	return false
}

// Fetch implements the fetcher.Source interface
func (m *MockSource) Fetch(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
	m.calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, d)
	}
	return fetcher.Observation{}, fetcher.NewParseError("mock has no FetchFunc", nil)
}

// Calls returns how many times Fetch was invoked.
func (m *MockSource) Calls() int {
	return int(m.calls.Load())
}

// NewMockSource creates a mock source that always returns the same price or error
func NewMockSource(name string, price string, err error) *MockSource {
	return &MockSource{
		NameValue: name,
		FetchFunc: func(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
			if err != nil {
				return fetcher.Observation{}, err
			}
			return fetcher.Observation{
				AssetCode: d.Code,
				Price:     decimal.RequireFromString(price),
				Provider:  name,
			}, nil
		},
	}
}

// PriceTable returns a mock source answering per asset code; unknown codes fail with a parse error.
func PriceTable(name string, prices map[string]string) *MockSource {
	return &MockSource{
		NameValue: name,
		FetchFunc: func(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
			p, ok := prices[d.Code]
			if !ok {
				return fetcher.Observation{}, fetcher.NewParseError("no price for "+d.Code, nil)
			}
			return fetcher.Observation{AssetCode: d.Code, Price: decimal.RequireFromString(p), Provider: name}, nil
		},
	}
}
