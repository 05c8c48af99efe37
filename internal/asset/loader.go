package asset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultCurrency is applied to rows that leave the currency column empty.
const DefaultCurrency = "VND"

// ErrEmptyUniverse is returned when the universe file holds no assets.
var ErrEmptyUniverse = errors.New("asset universe is empty")

// LoadFile reads the asset universe from a CSV file with the header
// asset_code,asset_name,asset_type[,currency].
func LoadFile(path string) ([]Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset universe: %w", err)
	}
	defer f.Close()

	assets, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return assets, nil
}

// Load parses the asset universe, keeping file order.
func Load(r io.Reader) ([]Descriptor, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyUniverse
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"asset_code", "asset_name", "asset_type"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	currencyCol, hasCurrency := cols["currency"]

	var assets []Descriptor
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		code := strings.TrimSpace(row[cols["asset_code"]])
		if code == "" {
			return nil, fmt.Errorf("line %d: empty asset_code", line)
		}
		if seen[code] {
			return nil, fmt.Errorf("line %d: duplicate asset_code %q", line, code)
		}
		seen[code] = true

		class, err := ParseClass(row[cols["asset_type"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		currency := DefaultCurrency
		if hasCurrency && currencyCol < len(row) && strings.TrimSpace(row[currencyCol]) != "" {
			currency = strings.ToUpper(strings.TrimSpace(row[currencyCol]))
		}

		assets = append(assets, Descriptor{
			Code:     code,
			Name:     strings.TrimSpace(row[cols["asset_name"]]),
			Class:    class,
			Currency: currency,
		})
	}

	if len(assets) == 0 {
		return nil, ErrEmptyUniverse
	}
	return assets, nil
}
