// Package store merges collected prices into the append-only price history.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the layout of Record.Date.
const DateLayout = "2006-01-02"

// Columns is the persisted header, in order.
var Columns = []string{"date", "asset_code", "price", "asset_name", "asset_type", "currency", "source", "crawl_time"}

// Record is one persisted observation. (Date, AssetCode) is unique.
type Record struct {
	Date       string
	AssetCode  string
	Price      decimal.Decimal
	AssetName  string
	AssetClass string
	Currency   string
	Source     string
	CrawlTime  time.Time
}

// Key identifies a Record.
type Key struct {
	Date      string
	AssetCode string
}

func (k Key) String() string {
	return k.Date + "/" + k.AssetCode
}

// Key returns the record's dedup key.
func (r Record) Key() Key {
	return Key{Date: r.Date, AssetCode: r.AssetCode}
}

// KeySet holds the keys already persisted with their stored price.
type KeySet map[Key]decimal.Decimal

// Has reports whether k is persisted.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Policy decides what happens when a record's key is already persisted.
type Policy string

const (
	// SkipIfExists keeps the earliest observation for a key.
	SkipIfExists Policy = "skip-if-exists"
	// UpdateIfExists overwrites price, source and crawl time of the existing row.
	UpdateIfExists Policy = "update-if-exists"
)

// ParsePolicy accepts the policy names and their short forms.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip", string(SkipIfExists):
		return SkipIfExists, nil
	case "update", string(UpdateIfExists):
		return UpdateIfExists, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q (want skip-if-exists or update-if-exists)", s)
	}
}

// Dates returns the distinct dates of batch in first-seen order.
func Dates(batch []Record) []string {
	seen := make(map[string]bool)
	var dates []string
	for _, r := range batch {
		if !seen[r.Date] {
			seen[r.Date] = true
			dates = append(dates, r.Date)
		}
	}
	return dates
}
