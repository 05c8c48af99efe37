package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricecollector/internal/fetcher"
)

// recordSleeps replaces real waiting with a log of requested delays.
func recordSleeps(p *Policy) *[]time.Duration {
	var waits []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return &waits
}

func okObservation() fetcher.Observation {
	return fetcher.Observation{AssetCode: "HPG", Price: decimal.NewFromInt(26500), Provider: "vndirect"}
}

func TestDo_SucceedsAfterTransportFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: time.Second, Retryable: Kinds(fetcher.KindTransport)}
	waits := recordSleeps(&p)

	calls := 0
	obs, err := p.Do(context.Background(), func(ctx context.Context) (fetcher.Observation, error) {
		calls++
		if calls < 3 {
			return fetcher.Observation{}, fetcher.ClassifyHTTPError(503)
		}
		return okObservation(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "vndirect", obs.Provider)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestDo_DoesNotRetryStructuralFailures(t *testing.T) {
	for _, kind := range []fetcher.Kind{fetcher.KindParse, fetcher.KindPatternNotFound, fetcher.KindDataQuality} {
		t.Run(string(kind), func(t *testing.T) {
			p := DefaultPolicy()
			waits := recordSleeps(&p)

			calls := 0
			_, err := p.Do(context.Background(), func(ctx context.Context) (fetcher.Observation, error) {
				calls++
				return fetcher.Observation{}, &fetcher.FetchError{Kind: kind, Message: "structural"}
			})

			require.Error(t, err)
			assert.Equal(t, kind, fetcher.KindOf(err))
			assert.Equal(t, 1, calls)
			assert.Empty(t, *waits)
		})
	}
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 2, Retryable: Kinds(fetcher.KindTransport)}
	recordSleeps(&p)

	calls := 0
	_, err := p.Do(context.Background(), func(ctx context.Context) (fetcher.Observation, error) {
		calls++
		return fetcher.Observation{}, fetcher.ClassifyHTTPError(500 + calls)
	})

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 502, fe.StatusCode)
	assert.Equal(t, 2, calls)
}

func TestDo_MaxAttemptsBelowOneStillCallsOnce(t *testing.T) {
	p := Policy{}
	calls := 0
	_, _ = p.Do(context.Background(), func(ctx context.Context) (fetcher.Observation, error) {
		calls++
		return fetcher.Observation{}, errors.New("down")
	})
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Hour, Retryable: Kinds(fetcher.KindTransport)}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Do(ctx, func(ctx context.Context) (fetcher.Observation, error) {
		return fetcher.Observation{}, fetcher.ClassifyHTTPError(503)
	})

	require.Error(t, err)
	assert.Equal(t, fetcher.KindTransport, fetcher.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := DefaultPolicy().Do(ctx, func(ctx context.Context) (fetcher.Observation, error) {
		called = true
		return okObservation(), nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay(t *testing.T) {
	linear := Policy{Backoff: 2 * time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, 2*time.Second, linear.Delay(1))
	assert.Equal(t, 4*time.Second, linear.Delay(2))
	assert.Equal(t, 5*time.Second, linear.Delay(3))

	exp := Policy{Backoff: time.Second, Exponential: true}
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 2*time.Second, exp.Delay(2))
	assert.Equal(t, 4*time.Second, exp.Delay(3))

	jittered := Policy{Backoff: time.Second, Jitter: 500 * time.Millisecond}
	d := jittered.Delay(1)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, 1500*time.Millisecond)
}
