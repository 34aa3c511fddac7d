package pricing

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/domain/license"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeRates struct {
	mu    sync.Mutex
	rate  float64
	err   error
	calls atomic.Int32
}

func (f *fakeRates) Rate(ctx context.Context, currency string) (float64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate, f.err
}

func (f *fakeRates) set(rate float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate, f.err = rate, err
}

func newService(t *testing.T, rates *fakeRates) (*QuoteService, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	catalog := license.NewCatalog("USD", map[string]int64{"go-101": 1000}, 0, map[int]float64{6: 0.2})
	q := NewQuoteService(catalog, rates, Config{
		Retry:  retry.Policy{Initial: 30 * time.Second, Max: 30 * time.Second, Multiplier: 1},
		Clock:  clk,
		Logger: logger.NewNop(),
	})
	t.Cleanup(q.Close)
	return q, clk
}

func TestQuote(t *testing.T) {
	rates := &fakeRates{rate: 1.25}
	q, _ := newService(t, rates)

	quote, err := q.Quote(context.Background(), "go-101", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(4800), quote.Amount)
	assert.Equal(t, "$48.00", quote.Formatted)
	assert.Equal(t, int64(1000), quote.UnitPrice)
	assert.InDelta(t, 20, quote.SavingsPercent, 0.01)
	assert.Equal(t, uint64(38_400_000), quote.TokenAmount)
}

func TestQuoteUnknownResource(t *testing.T) {
	q, _ := newService(t, &fakeRates{rate: 1})

	_, err := q.Quote(context.Background(), "haskell-999", 1)
	assert.True(t, errors.IsDomainRejection(err))
	assert.ErrorIs(t, err, license.ErrUnknownResource)
}

func TestQuoteWithoutRate(t *testing.T) {
	q, _ := newService(t, &fakeRates{err: stderrors.New("rate api down")})

	quote, err := q.Quote(context.Background(), "go-101", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), quote.Amount)
	assert.Zero(t, quote.TokenAmount)
}

func TestRateRefreshAndStaleWindow(t *testing.T) {
	rates := &fakeRates{rate: 1.0}
	q, clk := newService(t, rates)
	ctx := context.Background()

	require.NoError(t, q.WarmRate(ctx, "USD"))
	deadline, ok := clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(4*time.Minute), deadline)

	// Refresh succeeds a minute before the rate turns five minutes old.
	rates.set(1.1, nil)
	clk.Advance(4 * time.Minute)
	require.Eventually(t, func() bool {
		quote, err := q.Quote(ctx, "go-101", 1)
		return err == nil && quote.Rate == 1.1
	}, waitFor, tick)

	// Failing refreshes keep serving the last rate until it is 15 minutes old.
	rates.set(0, stderrors.New("rate api down"))
	clk.Advance(4 * time.Minute)
	require.Eventually(t, func() bool { return rates.calls.Load() == 3 }, waitFor, tick)

	quote, err := q.Quote(ctx, "go-101", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.1, quote.Rate)

	clk.Set(epoch.Add(4*time.Minute + 15*time.Minute))
	require.Eventually(t, func() bool {
		quote, err := q.Quote(ctx, "go-101", 1)
		return err == nil && quote.TokenAmount == 0
	}, waitFor, tick)
}

func TestToTokenUnits(t *testing.T) {
	assert.Equal(t, uint64(10_000_000), ToTokenUnits(7250, 7.25))
	assert.Zero(t, ToTokenUnits(1000, 0))
	assert.Zero(t, ToTokenUnits(-5, 1))
}
