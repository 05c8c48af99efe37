package fallback

import (
	"fmt"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
)

// Chains maps every asset class to its ordered candidate sources,
// cheapest and most reliable first.
type Chains map[asset.Class][]fetcher.Source

// BuildChains resolves configured source names into chains. Names in disabled
// are dropped (e.g. browser sources on a cheap-only run). Unknown names and
// sources that cannot serve the class are configuration errors.
func BuildChains(order map[asset.Class][]string, sources map[string]fetcher.Source, disabled map[string]bool) (Chains, error) {
	chains := make(Chains, len(order))
	for class, names := range order {
		seen := make(map[string]bool, len(names))
		chain := make([]fetcher.Source, 0, len(names))
		for _, name := range names {
			if seen[name] {
				return nil, fmt.Errorf("chain %s: source %q listed twice", class, name)
			}
			seen[name] = true

			if disabled[name] {
				continue
			}
			src, ok := sources[name]
			if !ok {
				return nil, fmt.Errorf("chain %s: unknown source %q", class, name)
			}
			if !src.Supports(class) {
				return nil, fmt.Errorf("chain %s: source %q does not support class %s", class, name, class)
			}
			chain = append(chain, src)
		}
		chains[class] = chain
	}
	return chains, nil
}

// Names lists the provider names of a chain in order.
func (c Chains) Names(class asset.Class) []string {
	names := make([]string, 0, len(c[class]))
	for _, src := range c[class] {
		names = append(names, src.Name())
	}
	return names
}
