// Package fallback escalates one asset through the ordered sources configured
// for its class until one of them produces an observation.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/logger"
	"pricecollector/internal/retry"
)

// ErrNoSources is the cause reported for classes without any configured source.
var ErrNoSources = errors.New("no sources configured for asset class")

// Resolver tries the sources of a chain in order through the retry policy.
type Resolver struct {
	chains Chains
	policy retry.Policy
	log    *logger.Logger
}

// NewResolver creates a Resolver. A nil log discards output.
func NewResolver(chains Chains, policy retry.Policy, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	if policy.Logger == nil {
		policy.Logger = log
	}
	return &Resolver{chains: chains, policy: policy, log: log}
}

// Resolve returns the observation of the first source in the chain that
// succeeds with a positive price. Later sources are never consulted once one succeeds, and values
// from different providers are never combined. When every source fails the
// error is ChainExhausted wrapping the failure of the last source tried.
func (r *Resolver) Resolve(ctx context.Context, d asset.Descriptor) (fetcher.Observation, error) {
	chain := r.chains[d.Class]
	if len(chain) == 0 {
		return fetcher.Observation{}, fetcher.NewChainExhaustedError(d.Code, 0, fmt.Errorf("%w: %s", ErrNoSources, d.Class))
	}

	var lastErr error
	for i, src := range chain {
		log := r.log.With(logger.String("asset", d.Code), logger.String("provider", src.Name()))

		obs, err := r.policy.Do(ctx, func(ctx context.Context) (fetcher.Observation, error) {
			return src.Fetch(ctx, d)
		})
		if err == nil {
			obs.Provider = src.Name()
			if obs.AssetCode == "" {
				obs.AssetCode = d.Code
			}
			// An implausible price is a failure of this source, not of the asset.
			if err = obs.Validate(); err == nil {
				log.Debug("source succeeded", logger.Int("position", i+1))
				return obs, nil
			}
		}

		fe := fetcher.AsFetchError(err)
		if fe.Provider == "" {
			fe = fe.WithProvider(src.Name())
		}
		lastErr = fe

		if ctx.Err() != nil {
			log.Warn("run deadline reached during fallback", logger.Error(lastErr))
			return fetcher.Observation{}, fetcher.NewChainExhaustedError(d.Code, i+1, lastErr)
		}
		if i < len(chain)-1 {
			log.Info("source failed, falling back",
				logger.String("kind", string(fetcher.KindOf(err))),
				logger.String("next", chain[i+1].Name()),
				logger.Error(lastErr),
			)
		}
	}

	return fetcher.Observation{}, fetcher.NewChainExhaustedError(d.Code, len(chain), lastErr)
}
