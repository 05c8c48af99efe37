package fetcher

import "github.com/shopspring/decimal"

// Unit describes how a source quotes prices relative to the canonical
// per-unit currency value. A source quoting thousand VND per chỉ of gold
// has Scale 1000 and SubUnits 10 (ten chỉ per lượng).
type Unit struct {
	// Scale is the number of currency units per quoted unit. Zero means 1.
	Scale int64 `mapstructure:"scale"`
	// SubUnits is the number of quoted sub-units per canonical unit. Zero means 1.
	SubUnits int64 `mapstructure:"sub_units"`
}

// Multiplier returns the fixed factor applied to every raw value.
func (u Unit) Multiplier() decimal.Decimal {
	scale, sub := u.Scale, u.SubUnits
	if scale == 0 {
		scale = 1
	}
	if sub == 0 {
		sub = 1
	}
	return decimal.NewFromInt(scale).Mul(decimal.NewFromInt(sub))
}

// Normalize converts a raw source value into the canonical per-unit price.
func (u Unit) Normalize(raw decimal.Decimal) decimal.Decimal {
	return raw.Mul(u.Multiplier())
}
