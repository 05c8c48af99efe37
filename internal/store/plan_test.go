package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var crawl = time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)

func rec(date, code, price, source string) Record {
	return Record{
		Date:       date,
		AssetCode:  code,
		Price:      decimal.RequireFromString(price),
		AssetName:  code,
		AssetClass: "stock",
		Currency:   "VND",
		Source:     source,
		CrawlTime:  crawl,
	}
}

func TestPlan_InsertsNewKeys(t *testing.T) {
	existing := KeySet{{"2025-01-15", "HPG"}: decimal.NewFromInt(26000)}
	batch := []Record{
		rec("2025-01-16", "HPG", "26550", "vndirect"),
		rec("2025-01-16", "FPT", "150000", "vndirect"),
	}

	changes, res := Plan(existing, batch, SkipIfExists)
	assert.Equal(t, Result{Inserted: 2}, res)
	assert.Equal(t, batch, changes.Inserts)
	assert.Empty(t, changes.Updates)
}

func TestPlan_SkipIfExists(t *testing.T) {
	existing := KeySet{{"2025-01-16", "HPG"}: decimal.NewFromInt(26000)}
	batch := []Record{rec("2025-01-16", "HPG", "26550", "vndirect")}

	changes, res := Plan(existing, batch, SkipIfExists)
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.True(t, changes.Empty())
}

func TestPlan_UpdateIfExists(t *testing.T) {
	existing := KeySet{
		{"2025-01-16", "HPG"}: decimal.NewFromInt(26000),
		{"2025-01-16", "FPT"}: decimal.NewFromInt(150000),
	}
	batch := []Record{
		rec("2025-01-16", "HPG", "26550", "vndirect"),
		rec("2025-01-16", "FPT", "150000.0", "vndirect"),
		rec("2025-01-16", "MBB", "24000", "vndirect"),
	}

	changes, res := Plan(existing, batch, UpdateIfExists)
	assert.Equal(t, Result{Inserted: 1, Updated: 1, Skipped: 1}, res)
	require.Len(t, changes.Updates, 1)
	assert.Equal(t, "HPG", changes.Updates[0].AssetCode)
	assert.True(t, changes.Updates[0].Price.Equal(decimal.NewFromInt(26550)))
	require.Len(t, changes.Inserts, 1)
	assert.Equal(t, "MBB", changes.Inserts[0].AssetCode)
}

func TestPlan_DoesNotModifyExisting(t *testing.T) {
	existing := KeySet{{"2025-01-16", "HPG"}: decimal.NewFromInt(26000)}
	Plan(existing, []Record{rec("2025-01-16", "FPT", "1", "x"), rec("2025-01-16", "HPG", "2", "x")}, UpdateIfExists)

	assert.Len(t, existing, 1)
	assert.True(t, existing[Key{"2025-01-16", "HPG"}].Equal(decimal.NewFromInt(26000)))
}

func TestPlan_RepeatedKeyInBatch(t *testing.T) {
	batch := []Record{
		rec("2025-01-16", "HPG", "26550", "first"),
		rec("2025-01-16", "HPG", "26600", "second"),
	}

	t.Run("skip keeps the first", func(t *testing.T) {
		changes, res := Plan(KeySet{}, batch, SkipIfExists)
		assert.Equal(t, Result{Inserted: 1, Skipped: 1}, res)
		require.Len(t, changes.Inserts, 1)
		assert.Equal(t, "first", changes.Inserts[0].Source)
	})

	t.Run("update keeps one row with the last price", func(t *testing.T) {
		changes, res := Plan(KeySet{}, batch, UpdateIfExists)
		assert.Equal(t, 2, res.Inserted+res.Updated+res.Skipped)
		require.Len(t, changes.Inserts, 1)
		assert.Empty(t, changes.Updates)
		assert.Equal(t, "second", changes.Inserts[0].Source)
		assert.True(t, changes.Inserts[0].Price.Equal(decimal.NewFromInt(26600)))
	})

	t.Run("update of a persisted key twice", func(t *testing.T) {
		existing := KeySet{{"2025-01-16", "HPG"}: decimal.NewFromInt(1)}
		changes, res := Plan(existing, batch, UpdateIfExists)
		assert.Equal(t, Result{Updated: 1, Skipped: 1}, res)
		require.Len(t, changes.Updates, 1)
		assert.Equal(t, "second", changes.Updates[0].Source)
	})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
	}{
		{"", SkipIfExists},
		{"skip", SkipIfExists},
		{"skip-if-exists", SkipIfExists},
		{"UPDATE", UpdateIfExists},
		{"update-if-exists", UpdateIfExists},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePolicy("overwrite")
	assert.Error(t, err)
}

func TestDates(t *testing.T) {
	batch := []Record{
		rec("2025-01-16", "A", "1", "x"),
		rec("2025-01-15", "B", "1", "x"),
		rec("2025-01-16", "C", "1", "x"),
	}
	assert.Equal(t, []string{"2025-01-16", "2025-01-15"}, Dates(batch))
}
