package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants one run exclusive write access to the persisted collection.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) (unlock func() error, err error)
}

// ErrLockTimeout is returned when a lock cannot be taken before ctx is done.
var ErrLockTimeout = errors.New("timed out waiting for merge lock")

const defaultLockPoll = 200 * time.Millisecond

// FileLock is a lockfile next to the collection, created with O_EXCL.
type FileLock struct {
	Path string
	// Poll is how often a held lock is re-tried.
	Poll time.Duration
	// Stale removes a lockfile older than this, left by a crashed run. Zero never does.
	Stale time.Duration
}

// Lock implements Locker
func (l *FileLock) Lock(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	poll := l.Poll
	if poll <= 0 {
		poll = defaultLockPoll
	}

	token := uuid.NewString()
	for {
		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), token)
			f.Close()
			return func() error { return l.release(token) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lockfile: %w", err)
		}

		if l.Stale > 0 && l.breakStale() {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s held by pid %d: %w", ErrLockTimeout, l.Path, pidOf(l.Path), ctx.Err())
		case <-time.After(poll):
		}
	}
}

// release removes the lockfile only while it still carries token. A holder
// whose lock was broken as stale must not remove its successor's file.
func (l *FileLock) release(token string) error {
	b, err := os.ReadFile(l.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lockfile: %w", err)
	}
	if fields := strings.Fields(string(b)); len(fields) < 2 || fields[1] != token {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lockfile: %w", err)
	}
	return nil
}

// breakStale removes an expired lockfile and reports whether it did.
// Breakers serialize on a guard file and re-check the age under it, so a
// fresh lock taken after the stale one is gone is never removed.
func (l *FileLock) breakStale() bool {
	if !l.expired(l.Path) {
		return false
	}
	guard := l.Path + ".break"
	g, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		// a breaker that crashed holding the guard
		if l.expired(guard) {
			os.Remove(guard)
		}
		return false
	}
	g.Close()
	defer os.Remove(guard)

	if !l.expired(l.Path) {
		return false
	}
	return os.Remove(l.Path) == nil
}

func (l *FileLock) expired(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && time.Since(fi.ModTime()) > l.Stale
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX lock shared by runs on different hosts.
type RedisLock struct {
	Client redis.UniversalClient
	Key    string
	// TTL bounds how long a crashed holder blocks others.
	TTL  time.Duration
	Poll time.Duration
}

// Lock implements Locker
func (l *RedisLock) Lock(ctx context.Context) (func() error, error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	poll := l.Poll
	if poll <= 0 {
		poll = defaultLockPoll
	}
	token := uuid.NewString()

	for {
		ok, err := l.Client.SetNX(ctx, l.Key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, l.Key, ctx.Err())
			}
			return nil, fmt.Errorf("redis lock %s: %w", l.Key, err)
		}
		if ok {
			return func() error {
				// the caller's ctx may be done by now
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, l.Client, []string{l.Key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
					return fmt.Errorf("redis unlock %s: %w", l.Key, err)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, l.Key, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// pidOf reads the pid written into a lockfile, or 0.
func pidOf(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0
	}
	pid, _ := strconv.Atoi(fields[0])
	return pid
}
