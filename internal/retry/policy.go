// Package retry wraps a single source call with bounded attempts and backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"pricecollector/internal/fetcher"
	"pricecollector/internal/logger"
)

// Policy decides how often and how patiently one adapter call is retried.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Exponential bool
	// Jitter adds up to this much random delay to every wait.
	Jitter    time.Duration
	Retryable map[fetcher.Kind]bool

	Logger *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries transport failures three times, two seconds apart
// growing linearly, plus up to one second of jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		MaxBackoff:  10 * time.Second,
		Jitter:      time.Second,
		Retryable:   map[fetcher.Kind]bool{fetcher.KindTransport: true},
	}
}

// Kinds builds a retryable set.
func Kinds(kinds ...fetcher.Kind) map[fetcher.Kind]bool {
	set := make(map[fetcher.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// Do calls fn until it succeeds, fails with a non-retryable kind, or the
// attempts are used up. The last error is returned. Waiting between attempts
// stops as soon as ctx is done; the result is then a transport failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) (fetcher.Observation, error)) (fetcher.Observation, error) {
	attempts := max(p.MaxAttempts, 1)
	log := p.Logger
	if log == nil {
		log = logger.Nop()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fetcher.Observation{}, fetcher.NewTransportError(err)
		}

		obs, err := fn(ctx)
		if err == nil {
			return obs, nil
		}
		lastErr = err

		kind := fetcher.KindOf(err)
		if !p.Retryable[kind] || attempt == attempts {
			break
		}

		wait := p.Delay(attempt)
		log.Debug("retrying source call",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", attempts),
			logger.String("kind", string(kind)),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
		if err := p.doSleep(ctx, wait); err != nil {
			return fetcher.Observation{}, fetcher.NewTransportError(err)
		}
	}
	return fetcher.Observation{}, lastErr
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	var d time.Duration
	if p.Exponential {
		d = p.Backoff << (attempt - 1)
	} else {
		d = p.Backoff * time.Duration(attempt)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

func (p Policy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
