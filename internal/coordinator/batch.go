package coordinator

import (
	"errors"
	"time"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/store"
)

// Batch is the result of one run's fetch phase
type Batch struct {
	RunDate    string
	StartedAt  time.Time
	FinishedAt time.Time
	// Outcomes has one entry per asset, in universe order.
	Outcomes []Outcome
}

// Outcome is what happened to one asset. Exactly one of Record and Failure is set.
type Outcome struct {
	Asset  asset.Descriptor
	Record *store.Record
	// PriceDate is the date the source asserted, if any.
	PriceDate time.Time
	Failure   *Failure
	Elapsed   time.Duration
}

// Failure describes an asset that could not be collected
type Failure struct {
	AssetCode  string
	AssetClass asset.Class
	Kind       fetcher.Kind
	Err        error
}

// LastError returns the failure of the last source tried, or Err when the
// failure did not come from the fallback chain.
func (f Failure) LastError() error {
	var fe *fetcher.FetchError
	if errors.As(f.Err, &fe) && fe.Kind == fetcher.KindChainExhausted && fe.Cause != nil {
		return fe.Cause
	}
	return f.Err
}

// Records returns the successful records in universe order.
func (b *Batch) Records() []store.Record {
	var records []store.Record
	for _, o := range b.Outcomes {
		if o.Record != nil {
			records = append(records, *o.Record)
		}
	}
	return records
}

// Failures returns the failed assets in universe order.
func (b *Batch) Failures() []Failure {
	var failures []Failure
	for _, o := range b.Outcomes {
		if o.Failure != nil {
			failures = append(failures, *o.Failure)
		}
	}
	return failures
}
