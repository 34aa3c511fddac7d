package exchangerate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/shared/logger"
)

// priceServer answers with the next rate from rates on every request.
func priceServer(t *testing.T, rates ...float64) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "tether", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		n := int(calls.Add(1)) - 1
		if n >= len(rates) {
			n = len(rates) - 1
		}
		if rates[n] < 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"tether":{"usd":%g}}`, rates[n])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newSource(t *testing.T, url string) *CoinGecko {
	t.Helper()
	s, err := NewCoinGecko(Config{APIURL: url, MinRate: 0.5, MaxRate: 2, RatePerSecond: 1000}, logger.NewNop())
	require.NoError(t, err)
	return s
}

func TestRate(t *testing.T) {
	srv, calls := priceServer(t, 1.001)
	s := newSource(t, srv.URL)

	r, err := s.Rate(context.Background(), "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.001, r, 1e-9)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRateRejections(t *testing.T) {
	tests := []struct {
		name  string
		rates []float64
	}{
		{"http error", []float64{-1}},
		{"zero", []float64{0}},
		{"outside range", []float64{7.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := priceServer(t, tt.rates...)
			_, err := newSource(t, srv.URL).Rate(context.Background(), "usd")
			assert.Error(t, err)
		})
	}
}

func TestRateRefusesLargeJumps(t *testing.T) {
	srv, _ := priceServer(t, 1.0, 1.05, 1.5, 1.5)
	s := newSource(t, srv.URL)
	ctx := context.Background()

	_, err := s.Rate(ctx, "usd")
	require.NoError(t, err)
	r, err := s.Rate(ctx, "usd")
	require.NoError(t, err)
	assert.InDelta(t, 1.05, r, 1e-9)

	_, err = s.Rate(ctx, "usd")
	assert.ErrorContains(t, err, "exceeds threshold")

	s.Reset("USD")
	r, err = s.Rate(ctx, "usd")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, r, 1e-9)
}
