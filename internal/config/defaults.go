package config

import (
	"time"

	"pricecollector/internal/fetcher"
	"pricecollector/internal/scrape"
)

const (
	vcbfFundBase = "https://www.vcbf.com/quy-mo/cac-quy-mo/"
	// Gold bar and ring prices in VND per lượng.
	goldMin = 10_000_000
	goldMax = 1_000_000_000
	// VCBF publishes NAV per unit in VND.
	navMin = 10_000
	navMax = 100_000
)

// DefaultSources is the provider set used when the configuration names none.
func DefaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		"vndirect": {
			Type:     TypeVNDirect,
			BaseURL:  "https://dchart-api.vndirect.com.vn",
			Classes:  []string{"stock", "etf", "fund"},
			Unit:     fetcher.Unit{Scale: 1000},
			Lookback: 30 * 24 * time.Hour,
		},
		"fmarket": {
			Type:    TypeFmarket,
			BaseURL: "https://api.fmarket.vn",
			Classes: []string{"fund"},
			TTL:     30 * time.Minute,
		},
		"giavang": {
			Type:    TypeScrape,
			Classes: []string{"gold"},
			Targets: map[string]scrape.Target{
				"GOLD_SJC":  {URL: "https://giavang.org/", Label: "SJC", Min: goldMin, Max: goldMax},
				"GOLD_RING": {URL: "https://giavang.org/", Label: "Nhẫn", Min: goldMin, Max: goldMax},
			},
		},
		"btmc": {
			Type:    TypeScrape,
			Classes: []string{"gold"},
			// thousand VND per chỉ, ten chỉ per lượng
			Unit: fetcher.Unit{Scale: 1000, SubUnits: 10},
			Targets: map[string]scrape.Target{
				"GOLD_SJC":  {URL: "https://btmc.vn/", Label: "SJC", Min: 1_000, Max: 100_000},
				"GOLD_RING": {URL: "https://btmc.vn/", Label: "Nhẫn", Min: 1_000, Max: 100_000},
			},
		},
		"sjc_browser": {
			Type:    TypeBrowser,
			Classes: []string{"gold"},
			Rate:    0.5,
			Targets: map[string]scrape.Target{
				"GOLD_SJC": {URL: "https://sjc.com.vn/", Label: "SJC", Min: goldMin, Max: goldMax},
			},
		},
		"vcbf_browser": {
			Type:    TypeBrowser,
			Classes: []string{"fund"},
			Rate:    0.5,
			Targets: map[string]scrape.Target{
				"VCBFMGF": {URL: vcbfFundBase + "quy-dau-tu-co-phieu-tang-truong-vcbf-vcbf-mgf/", Label: "NAV", Min: navMin, Max: navMax},
				"VCBFBCF": {URL: vcbfFundBase + "quy-dau-tu-co-phieu-hang-dau-vcbf-vcbf-bcf/", Label: "NAV", Min: navMin, Max: navMax},
				"VCBFFIF": {URL: vcbfFundBase + "quy-dau-tu-trai-phieu-vcbf-vcbf-fif/", Label: "NAV", Min: navMin, Max: navMax},
			},
		},
	}
}

// DefaultChains orders the default sources per asset class, cheapest first.
func DefaultChains() map[string][]string {
	return map[string][]string{
		"stock": {"vndirect"},
		"etf":   {"vndirect"},
		"fund":  {"fmarket", "vndirect", "vcbf_browser"},
		"gold":  {"giavang", "btmc", "sjc_browser"},
	}
}
