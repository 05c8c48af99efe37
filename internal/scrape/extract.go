// Package scrape extracts prices from semi-structured page markup by
// anchoring on the labels that surround them.
package scrape

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"pricecollector/internal/fetcher"
)

// labelWindow is how far past the label a price may appear, within one text run.
const labelWindow = 100

// numberExpr matches grouped thousands ("16.750", "82,500,000") or a plain
// number with an optional fraction ("26.55").
const numberExpr = `(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)?)`

// Target locates one asset's price on a page.
type Target struct {
	URL string `mapstructure:"url"`
	// Label is the literal text preceding the price, matched case-insensitively.
	Label string `mapstructure:"label"`
	// Pattern replaces the label rule. Its first capture group is the price.
	Pattern string `mapstructure:"pattern"`
	// Min and Max bound the raw value; matches outside are skipped. Zero disables a bound.
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

var numberRe = regexp.MustCompile(numberExpr)

// Matcher is a compiled Target.
type Matcher struct {
	// label is set in label mode, re in pattern mode
	label    *regexp.Regexp
	re       *regexp.Regexp
	min, max decimal.Decimal
	desc     string
}

// Compile validates t and compiles its pattern.
func Compile(t Target) (*Matcher, error) {
	m := &Matcher{
		min: decimal.NewFromFloat(t.Min),
		max: decimal.NewFromFloat(t.Max),
	}

	switch {
	case t.Pattern != "":
		m.desc = fmt.Sprintf("pattern %q", t.Pattern)
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", m.desc, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%s has no capture group", m.desc)
		}
		m.re = re
	case strings.TrimSpace(t.Label) != "":
		m.desc = fmt.Sprintf("label %q", t.Label)
		m.label = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(strings.TrimSpace(t.Label)))
	default:
		return nil, errors.New("target needs a label or a pattern")
	}

	if t.Min > 0 && t.Max > 0 && t.Min >= t.Max {
		return nil, fmt.Errorf("%s: min %v is not below max %v", m.desc, t.Min, t.Max)
	}
	return m, nil
}

// Find returns the first in-bounds raw value in page. A page without a
// usable match is a PatternNotFound failure.
func (m *Matcher) Find(page string) (decimal.Decimal, error) {
	candidates := m.candidates(page)
	if len(candidates) == 0 {
		return decimal.Zero, fetcher.NewPatternNotFoundError(fmt.Sprintf("%s not found in page", m.desc))
	}

	for _, c := range candidates {
		v, err := ParseNumber(c)
		if err != nil {
			continue
		}
		if m.inBounds(v) {
			return v, nil
		}
	}
	return decimal.Zero, fetcher.NewPatternNotFoundError(fmt.Sprintf("%s matched %d numbers but none was usable", m.desc, len(candidates)))
}

// candidates lists the raw numbers in page order. In label mode every number
// in the text run that follows each label occurrence is a candidate.
func (m *Matcher) candidates(page string) []string {
	var out []string
	if m.re != nil {
		for _, match := range m.re.FindAllStringSubmatch(page, -1) {
			out = append(out, match[1])
		}
		return out
	}

	for _, loc := range m.label.FindAllStringIndex(page, -1) {
		window := page[loc[1]:min(loc[1]+labelWindow, len(page))]
		if end := strings.IndexAny(window, "<>"); end >= 0 {
			window = window[:end]
		}
		out = append(out, numberRe.FindAllString(window, -1)...)
	}
	return out
}

func (m *Matcher) inBounds(v decimal.Decimal) bool {
	if m.min.IsPositive() && v.LessThan(m.min) {
		return false
	}
	if m.max.IsPositive() && v.GreaterThan(m.max) {
		return false
	}
	return true
}

// Extract compiles t and finds its value in page.
func Extract(page string, t Target) (decimal.Decimal, error) {
	m, err := Compile(t)
	if err != nil {
		return decimal.Zero, fetcher.NewParseError("invalid target", err)
	}
	return m.Find(page)
}

// ParseNumber parses a price written with "." or "," separators.
//
// Repeated separators of one kind group thousands. A single separator
// followed by exactly three digits also groups thousands, as local pages
// write them. When both kinds appear the last one is the decimal point.
func ParseNumber(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.New("empty number")
	}

	dots, commas := strings.Count(s, "."), strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		dec := strings.LastIndexAny(s, ".,")
		intPart := strings.NewReplacer(".", "", ",", "").Replace(s[:dec])
		s = intPart + "." + s[dec+1:]
	case dots+commas > 1:
		s = strings.NewReplacer(".", "", ",", "").Replace(s)
	case dots+commas == 1:
		sep := strings.IndexAny(s, ".,")
		if len(s)-sep-1 == 3 {
			s = s[:sep] + s[sep+1:]
		} else {
			s = s[:sep] + "." + s[sep+1:]
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse number %q: %w", s, err)
	}
	return d, nil
}
