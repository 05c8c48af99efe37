package asset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Success(t *testing.T) {
	input := `asset_code,asset_name,asset_type,currency
HPG,Hoa Phat Group,stock,VND
E1VFVN30,DCVFM VN30 ETF,etf,
VESAF,VinaCapital Equity Special Fund,Fund,vnd
GOLD_SJC,SJC Gold Bar,gold,VND
`
	assets, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	want := []Descriptor{
		{Code: "HPG", Name: "Hoa Phat Group", Class: ClassStock, Currency: "VND"},
		{Code: "E1VFVN30", Name: "DCVFM VN30 ETF", Class: ClassETF, Currency: "VND"},
		{Code: "VESAF", Name: "VinaCapital Equity Special Fund", Class: ClassFund, Currency: "VND"},
		{Code: "GOLD_SJC", Name: "SJC Gold Bar", Class: ClassGold, Currency: "VND"},
	}
	if len(assets) != len(want) {
		t.Fatalf("Load() returned %d assets, want %d", len(assets), len(want))
	}
	for i := range want {
		if assets[i] != want[i] {
			t.Errorf("asset[%d] = %+v, want %+v", i, assets[i], want[i])
		}
	}
}

func TestLoad_WithoutCurrencyColumn(t *testing.T) {
	input := "asset_code,asset_name,asset_type\nFPT,FPT Corp,stock\n"

	assets, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if assets[0].Currency != DefaultCurrency {
		t.Errorf("Currency = %q, want %q", assets[0].Currency, DefaultCurrency)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantErrText string
	}{
		{"empty file", "", "empty"},
		{"header only", "asset_code,asset_name,asset_type\n", "empty"},
		{"missing column", "asset_code,asset_name\nHPG,Hoa Phat\n", "asset_type"},
		{"unknown class", "asset_code,asset_name,asset_type\nBTC,Bitcoin,crypto\n", "unknown asset class"},
		{"duplicate code", "asset_code,asset_name,asset_type\nHPG,A,stock\nHPG,B,stock\n", "duplicate"},
		{"empty code", "asset_code,asset_name,asset_type\n,A,stock\n", "empty asset_code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErrText) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrText)
			}
		})
	}
}

func TestLoad_EmptyUniverseSentinel(t *testing.T) {
	_, err := Load(strings.NewReader("asset_code,asset_name,asset_type\n"))
	if !errors.Is(err, ErrEmptyUniverse) {
		t.Errorf("Load() error = %v, want ErrEmptyUniverse", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.csv")
	if err := os.WriteFile(path, []byte("asset_code,asset_name,asset_type\nGOLD_RING,Gold Ring 9999,gold\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	assets, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() returned unexpected error: %v", err)
	}
	if len(assets) != 1 || assets[0].Class != ClassGold {
		t.Errorf("LoadFile() = %+v, want one gold asset", assets)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("LoadFile() expected error for missing file, got nil")
	}
}

func TestParseClass(t *testing.T) {
	tests := []struct {
		in   string
		want Class
	}{
		{"stock", ClassStock},
		{" ETF ", ClassETF},
		{"Fund", ClassFund},
		{"gold", ClassGold},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClass(tt.in)
			if err != nil {
				t.Fatalf("ParseClass(%q) returned error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseClass(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
