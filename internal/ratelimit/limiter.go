package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages request rates for the upstream providers
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// New returns a Limiter with one token bucket per provider.
// A rate of zero or below registers an unlimited provider.
func New(rates map[string]float64) *Limiter {
	l := &Limiter{limiters: make(map[string]*rate.Limiter, len(rates))}
	for provider, r := range rates {
		l.Set(provider, r)
	}
	return l
}

// Unlimited returns a Limiter that never blocks. Used by tests.
func Unlimited() *Limiter {
	return New(nil)
}

// Set registers or replaces the limit for provider, in requests per second.
func (l *Limiter) Set(provider string, perSecond float64) {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}

	l.mu.Lock()
	l.limiters[provider] = rate.NewLimiter(limit, 1)
	l.mu.Unlock()
}

// Wait blocks until the rate limiter permits a request to provider.
// It returns an error if the context is canceled before the request can proceed
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	limiter, exists := l.limiters[provider]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this provider, allow the request without limiting
		return nil
	}

	return limiter.Wait(ctx)
}

// Allow reports whether a request to provider may happen now
func (l *Limiter) Allow(provider string) bool {
	if l == nil {
		return true
	}
	l.mu.RLock()
	limiter, exists := l.limiters[provider]
	l.mu.RUnlock()

	if !exists {
		return true
	}

	return limiter.Allow()
}
