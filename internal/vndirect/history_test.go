package vndirect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricecollector/internal/asset"
	"pricecollector/internal/fetcher"
	"pricecollector/internal/ratelimit"
)

var hpg = asset.Descriptor{Code: "HPG", Name: "Hoa Phat Group", Class: asset.ClassStock, Currency: "VND"}

func newTestSource(url string) *HistorySource {
	loc, _ := time.LoadLocation("Asia/Ho_Chi_Minh")
	return New(Config{BaseURL: url, Location: loc}, ratelimit.Unlimited())
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{}, nil)

	assert.Equal(t, "vndirect", s.Name())
	assert.Equal(t, DefaultBaseURL, s.cfg.BaseURL)
	assert.True(t, s.cfg.Unit.Multiplier().Equal(Unit.Multiplier()), "unit multiplier = %s, want 1000", s.cfg.Unit.Multiplier())
	assert.NotNil(t, s.client)
}

func TestHistorySource_Supports(t *testing.T) {
	s := New(Config{}, nil)
	tests := []struct {
		class asset.Class
		want  bool
	}{
		{asset.ClassStock, true},
		{asset.ClassETF, true},
		{asset.ClassFund, true},
		{asset.ClassGold, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			assert.Equal(t, tt.want, s.Supports(tt.class))
		})
	}
}

func TestHistorySource_Fetch_Success(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dchart/history", r.URL.Path)
		assert.Equal(t, "HPG", r.URL.Query().Get("symbol"))
		assert.Equal(t, "D", r.URL.Query().Get("resolution"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		// 1736985600 = 2025-01-16 07:00 ICT
		w.Write([]byte(`{"t":[1736899200,1736985600],"c":[26.1,26.55],"o":[26,26.2],"s":"ok"}`))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	obs, err := newTestSource(server.URL).Fetch(context.Background(), hpg)
	require.NoError(t, err)

	assert.Equal(t, "26550", obs.Price.String())
	assert.Equal(t, "vndirect", obs.Provider)
	assert.Equal(t, "2025-01-16", obs.PriceDate.Format(time.DateOnly))
	assert.False(t, obs.ObservedAt.IsZero())
}

func TestHistorySource_Fetch_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind fetcher.Kind
	}{
		{"server error", http.StatusInternalServerError, ``, fetcher.KindTransport},
		{"rate limited", http.StatusTooManyRequests, ``, fetcher.KindTransport},
		{"no data", http.StatusOK, `{"t":[],"c":[],"s":"no_data"}`, fetcher.KindParse},
		{"missing close", http.StatusOK, `{"t":[1736985600],"s":"ok"}`, fetcher.KindParse},
		{"non numeric close", http.StatusOK, `{"t":[1736985600],"c":["n/a"],"s":"ok"}`, fetcher.KindParse},
		{"not json", http.StatusOK, `<html>maintenance</html>`, fetcher.KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestSource(server.URL).Fetch(context.Background(), hpg)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, fetcher.KindOf(err), "%v", err)
			assert.True(t, strings.HasPrefix(err.Error(), "vndirect: "), "error %q is not attributed to the provider", err)
		})
	}
}

func TestHistorySource_Fetch_StringClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"t":[1736985600],"c":["15.2"],"s":"ok"}`))
	}))
	defer server.Close()

	obs, err := newTestSource(server.URL).Fetch(context.Background(), hpg)
	require.NoError(t, err)
	assert.Equal(t, "15200", obs.Price.String())
}

func TestHistorySource_Fetch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSource(server.URL).Fetch(ctx, hpg)
	require.Error(t, err)
	assert.Equal(t, fetcher.KindTransport, fetcher.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}
