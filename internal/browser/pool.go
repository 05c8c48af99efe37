// Package browser drives a headless browser for pages that only render
// their prices with JavaScript.
package browser

import (
	"context"
	"errors"
	"sync"

	"pricecollector/internal/fetcher"
)

// Session renders pages. One session is used by one asset at a time.
type Session interface {
	HTML(ctx context.Context, url string) (string, error)
}

// Launcher opens sessions. The returned release func must be called exactly once.
type Launcher interface {
	Open(ctx context.Context) (Session, func(), error)
	Close() error
}

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser pool closed")

// Pool caps how many sessions are open at once.
type Pool struct {
	launcher Launcher
	sem      chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewPool returns a pool allowing at most size concurrent sessions.
func NewPool(launcher Launcher, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		launcher: launcher,
		sem:      make(chan struct{}, size),
	}
}

// Acquire waits for a free slot and opens a session. Waiting ends with a
// transport failure when ctx is done; a session that cannot be opened is a
// ResourceUnavailable failure.
func (p *Pool) Acquire(ctx context.Context) (Session, func(), error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, nil, fetcher.NewResourceUnavailableError("browser pool is closed", ErrPoolClosed)
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fetcher.NewTransportError(ctx.Err())
	}

	session, closeSession, err := p.launcher.Open(ctx)
	if err != nil {
		<-p.sem
		return nil, nil, fetcher.NewResourceUnavailableError("browser session could not be opened", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			closeSession()
			<-p.sem
		})
	}
	return session, release, nil
}

// With runs fn with a pooled session and releases it when fn returns,
// including when fn fails or panics.
func (p *Pool) With(ctx context.Context, fn func(Session) error) error {
	session, release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(session)
}

// InUse reports how many sessions are currently held.
func (p *Pool) InUse() int {
	return len(p.sem)
}

// Close shuts the launcher down. Sessions still held are released by their owners.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.launcher.Close()
}
