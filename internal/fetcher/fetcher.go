package fetcher

import (
	"context"

	"pricecollector/internal/asset"
)

// Source is the core interface every upstream provider adapter implements.
// Adapters of different capabilities (structured API, markup scrape, automated
// browser) are interchangeable behind it.
type Source interface {
	// Name is the provider name recorded as the source of accepted values.
	Name() string

	// Supports reports whether the source can serve assets of class c.
	Supports(c asset.Class) bool

	// Fetch retrieves one observation for the asset. Expected failures are
	// returned as *FetchError and never panic.
	Fetch(ctx context.Context, d asset.Descriptor) (Observation, error)
}
