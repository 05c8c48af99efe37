package fetcher

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one successfully fetched data point.
type Observation struct {
	AssetCode string
	Price     decimal.Decimal
	// PriceDate is the trading or valuation date the source asserts.
	// Zero when the source does not state one.
	PriceDate  time.Time
	Provider   string
	ObservedAt time.Time
}

// Validate rejects prices that must never reach the store.
func (o Observation) Validate() error {
	if !o.Price.IsPositive() {
		return NewDataQualityError(fmt.Sprintf("non-positive price %s for %s", o.Price, o.AssetCode)).WithProvider(o.Provider)
	}
	return nil
}

// FloatPrice converts a price decoded from a JSON body. NaN and infinities
// cannot be represented and are data quality failures.
func FloatPrice(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, NewDataQualityError(fmt.Sprintf("non-finite price %v", v))
	}
	return decimal.NewFromFloat(v), nil
}
