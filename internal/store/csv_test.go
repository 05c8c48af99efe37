package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCSV(t *testing.T) *CSVBackend {
	t.Helper()
	return NewCSVBackend(filepath.Join(t.TempDir(), "data", "daily_prices.csv"))
}

func TestCSVBackend_LoadMissingFile(t *testing.T) {
	b := newCSV(t)
	keys, err := b.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCSVBackend_AppendWritesHeaderOnce(t *testing.T) {
	b := newCSV(t)
	ctx := context.Background()

	require.NoError(t, b.Apply(ctx, Changes{Inserts: []Record{rec("2025-01-15", "HPG", "26000", "vndirect")}}))
	require.NoError(t, b.Apply(ctx, Changes{Inserts: []Record{rec("2025-01-16", "HPG", "26550", "vndirect")}}))

	data, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,asset_code,price,asset_name,asset_type,currency,source,crawl_time", lines[0])
	assert.Equal(t, "2025-01-15,HPG,26000,HPG,stock,VND,vndirect,2025-01-16T09:00:00Z", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "2025-01-16,HPG,26550,"))
}

func TestCSVBackend_LoadFiltersDates(t *testing.T) {
	b := newCSV(t)
	ctx := context.Background()
	require.NoError(t, b.Apply(ctx, Changes{Inserts: []Record{
		rec("2025-01-15", "HPG", "26000", "vndirect"),
		rec("2025-01-16", "HPG", "26550", "vndirect"),
	}}))

	keys, err := b.Load(ctx, []string{"2025-01-16"})
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.True(t, keys[Key{"2025-01-16", "HPG"}].Equal(decimal.NewFromInt(26550)))

	all, err := b.Load(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCSVBackend_UpdateRewritesOnlyMatchingRow(t *testing.T) {
	b := newCSV(t)
	ctx := context.Background()
	require.NoError(t, b.Apply(ctx, Changes{Inserts: []Record{
		rec("2025-01-15", "HPG", "26000", "vndirect"),
		rec("2025-01-16", "HPG", "26550", "vndirect"),
		rec("2025-01-16", "FPT", "150000", "vndirect"),
	}}))

	fixed := rec("2025-01-16", "HPG", "26700", "manual")
	fixed.AssetName = "ignored"
	require.NoError(t, b.Apply(ctx, Changes{
		Updates: []Record{fixed},
		Inserts: []Record{rec("2025-01-16", "MBB", "24000", "vndirect")},
	}))

	rows, err := b.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	codes := []string{rows[0].AssetCode + "@" + rows[0].Date, rows[1].AssetCode + "@" + rows[1].Date, rows[2].AssetCode, rows[3].AssetCode}
	assert.Equal(t, []string{"HPG@2025-01-15", "HPG@2025-01-16", "FPT", "MBB"}, codes, "order is preserved and inserts are appended")

	assert.Equal(t, "26700", rows[1].Price.String())
	assert.Equal(t, "manual", rows[1].Source)
	assert.Equal(t, "HPG", rows[1].AssetName, "only price, source and crawl time change")
	assert.Equal(t, "26000", rows[0].Price.String())

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(b.Path), ".daily_prices.csv.*"))
	assert.Empty(t, matches, "temporary file is cleaned up")
}

func TestCSVBackend_UpdateOfMissingRowFails(t *testing.T) {
	b := newCSV(t)
	ctx := context.Background()
	require.NoError(t, b.Apply(ctx, Changes{Inserts: []Record{rec("2025-01-16", "HPG", "26550", "vndirect")}}))

	err := b.Apply(ctx, Changes{Updates: []Record{rec("2025-01-16", "FPT", "1", "x")}})
	require.Error(t, err)

	rows, err := b.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "file is untouched")
}

func TestCSVBackend_AppendAfterMissingNewline(t *testing.T) {
	b := newCSV(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(b.Path), 0o755))
	require.NoError(t, os.WriteFile(b.Path, []byte("date,asset_code,price,asset_name,asset_type,currency,source,crawl_time\n2025-01-15,HPG,26000.0,Hoa Phat,stock,VND,VNDirect,2025-01-15T16:00:00"), 0o644))

	require.NoError(t, b.Apply(context.Background(), Changes{Inserts: []Record{rec("2025-01-16", "HPG", "26550", "vndirect")}}))

	rows, err := b.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "26000", rows[0].Price.String())
	assert.Equal(t, "2025-01-16", rows[1].Date)
}

func TestCSVBackend_RejectsForeignHeader(t *testing.T) {
	b := newCSV(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(b.Path), 0o755))
	require.NoError(t, os.WriteFile(b.Path, []byte("day,symbol,close\n"), 0o644))

	_, err := b.Load(context.Background(), nil)
	assert.ErrorContains(t, err, `missing column "date"`)
}
