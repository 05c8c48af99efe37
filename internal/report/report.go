// Package report summarizes one collection run for operators.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pricecollector/internal/asset"
	"pricecollector/internal/coordinator"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/store"
)

// Report is the outcome of one run.
type Report struct {
	RunID      string
	RunDate    string
	Mode       string
	Policy     store.Policy
	StartedAt  time.Time
	FinishedAt time.Time

	Universe  int
	Collected []Collected
	Failed    []Failed

	Inserted int
	Updated  int
	Skipped  int
}

// Collected is one asset that produced a record.
type Collected struct {
	AssetCode string
	Price     decimal.Decimal
	Currency  string
	Provider  string
	// PriceDate is the source's own date, zero when it asserted none.
	PriceDate time.Time
}

// Failed is one asset that did not.
type Failed struct {
	AssetCode  string
	AssetClass asset.Class
	Kind       fetcher.Kind
	Error      string
}

// Meta identifies a run.
type Meta struct {
	RunID     string
	Mode      string
	Policy    store.Policy
	StartedAt time.Time
}

// Build assembles the report of a run from its batch and merge result.
// Both lists are sorted by asset code.
func Build(meta Meta, batch *coordinator.Batch, merged store.Result) *Report {
	r := &Report{
		RunID:      meta.RunID,
		Mode:       meta.Mode,
		Policy:     meta.Policy,
		StartedAt:  meta.StartedAt,
		FinishedAt: time.Now(),
		Inserted:   merged.Inserted,
		Updated:    merged.Updated,
		Skipped:    merged.Skipped,
	}
	if batch == nil {
		return r
	}

	r.RunDate = batch.RunDate
	r.Universe = len(batch.Outcomes)
	if r.StartedAt.IsZero() {
		r.StartedAt = batch.StartedAt
	}

	for _, o := range batch.Outcomes {
		switch {
		case o.Record != nil:
			r.Collected = append(r.Collected, Collected{
				AssetCode: o.Record.AssetCode,
				Price:     o.Record.Price,
				Currency:  o.Record.Currency,
				Provider:  o.Record.Source,
				PriceDate: o.PriceDate,
			})
		case o.Failure != nil:
			r.Failed = append(r.Failed, Failed{
				AssetCode:  o.Failure.AssetCode,
				AssetClass: o.Failure.AssetClass,
				Kind:       o.Failure.Kind,
				Error:      o.Failure.Err.Error(),
			})
		}
	}

	sort.Slice(r.Collected, func(i, j int) bool { return r.Collected[i].AssetCode < r.Collected[j].AssetCode })
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].AssetCode < r.Failed[j].AssetCode })
	return r
}

// Duration is how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ByProvider counts collected assets per provider.
func (r *Report) ByProvider() map[string]int {
	counts := make(map[string]int)
	for _, c := range r.Collected {
		counts[c.Provider]++
	}
	return counts
}

// ByKind counts failed assets per failure kind.
func (r *Report) ByKind() map[fetcher.Kind]int {
	counts := make(map[fetcher.Kind]int)
	for _, f := range r.Failed {
		counts[f.Kind]++
	}
	return counts
}
