package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func noJitter(initial time.Duration) retry.Policy {
	return retry.Policy{Initial: initial, Max: time.Hour, Multiplier: 2, Jitter: 0}
}

func TestGetCollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	c := New(Options[string, int]{
		Name:   "test",
		Logger: logger.NewNop(),
		Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
			calls.Add(1)
			<-release
			return 42, time.Minute, nil
		},
	})
	defer c.Close()

	const n = 10
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "course")
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestGetSharesLoaderError(t *testing.T) {
	release := make(chan struct{})
	boom := errors.New("index unavailable")
	var calls atomic.Int32

	c := New(Options[string, int]{
		Logger: logger.NewNop(),
		Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
			calls.Add(1)
			<-release
			return 0, 0, boom
		},
	})
	defer c.Close()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "k")
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	_, ok := c.Peek("k")
	assert.False(t, ok)
}

func TestGetWithoutLoaderIsMiss(t *testing.T) {
	c := New(Options[string, int]{Logger: logger.NewNop()})
	defer c.Close()

	_, err := c.Get(context.Background(), "absent")

	assert.ErrorIs(t, err, ErrMiss)
}

func TestSetNotifiesAllSubscribersDespitePanics(t *testing.T) {
	c := New(Options[string, string]{Logger: logger.NewNop(), Clock: clock.NewFake(epoch)})
	defer c.Close()

	var got []string
	c.Subscribe("k", func(v string) { got = append(got, "first:"+v) })
	c.Subscribe("k", func(string) { panic("subscriber bug") })
	c.Subscribe("k", func(v string) { got = append(got, "third:"+v) })
	c.Subscribe("other", func(v string) { got = append(got, "other:"+v) })

	c.Set("k", "v1", time.Minute)

	assert.Equal(t, []string{"first:v1", "third:v1"}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := New(Options[string, int]{Logger: logger.NewNop(), Clock: clock.NewFake(epoch)})
	defer c.Close()

	var got []int
	unsubscribe := c.Subscribe("k", func(v int) { got = append(got, v) })

	c.Set("k", 1, time.Minute)
	unsubscribe()
	unsubscribe()
	c.Set("k", 2, time.Minute)

	assert.Equal(t, []int{1}, got)
}

func TestHardExpiryIsMiss(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := New(Options[string, int]{Logger: logger.NewNop(), Clock: clk})
	defer c.Close()

	c.Set("k", 7, time.Minute)
	clk.Advance(59 * time.Second)
	v, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	clk.Advance(time.Second)
	_, ok = c.Peek("k")
	assert.False(t, ok)
}

func TestRefreshFiresBeforeExpiry(t *testing.T) {
	clk := clock.NewFake(epoch)
	var calls atomic.Int32

	c := New(Options[string, int]{
		Logger:           logger.NewNop(),
		Clock:            clk,
		RefreshThreshold: time.Minute,
		Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
			return int(calls.Add(1)), 10 * time.Minute, nil
		},
	})
	defer c.Close()

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	deadline, ok := clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(9*time.Minute), deadline)

	clk.Advance(9*time.Minute - time.Second)
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		v, ok := c.Peek("k")
		return ok && v == 2
	}, waitFor, tick)
	assert.Equal(t, int32(2), calls.Load())
}

func TestThresholdLargerThanTTLIsClamped(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := New(Options[string, int]{
		Logger:           logger.NewNop(),
		Clock:            clk,
		RefreshThreshold: time.Minute,
		Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
			return 1, 30 * time.Second, nil
		},
	})
	defer c.Close()

	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	deadline, ok := clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(15*time.Second), deadline)
}

func TestFailedRefreshServesStaleUntilHardExpiry(t *testing.T) {
	clk := clock.NewFake(epoch)
	var calls atomic.Int32

	c := New(Options[string, string]{
		Logger:           logger.NewNop(),
		Clock:            clk,
		RefreshThreshold: time.Minute,
		Retry:            noJitter(10 * time.Second),
		Loader: func(ctx context.Context, key string) (string, time.Duration, error) {
			if calls.Add(1) == 1 {
				return "fresh", 10 * time.Minute, nil
			}
			return "", 0, errors.New("issuer down")
		},
	})
	defer c.Close()

	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	// refresh at 9m fails, retry in 10s
	clk.Advance(9 * time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 && clk.Pending() == 1 }, waitFor, tick)
	deadline, _ := clk.NextDeadline()
	assert.Equal(t, epoch.Add(9*time.Minute+10*time.Second), deadline)

	// second failure, retry in 20s
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 3 && clk.Pending() == 1 }, waitFor, tick)
	deadline, _ = clk.NextDeadline()
	assert.Equal(t, epoch.Add(9*time.Minute+30*time.Second), deadline)

	v, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "fresh", v)

	clk.Advance(20 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 4 && clk.Pending() == 1 }, waitFor, tick)

	clk.Advance(40 * time.Second)
	_, ok = c.Peek("k")
	assert.False(t, ok)

	// past hard expiry with nobody listening the entry is dropped
	require.Eventually(t, func() bool { return c.Len() == 0 }, waitFor, tick)
	assert.Equal(t, 0, clk.Pending())
}

func TestUrgentRetryWhenExpired(t *testing.T) {
	clk := clock.NewFake(epoch)
	var calls atomic.Int32
	var healthy atomic.Bool

	c := New(Options[string, string]{
		Logger:            logger.NewNop(),
		Clock:             clk,
		RefreshThreshold:  30 * time.Second,
		Retry:             noJitter(10 * time.Second),
		UrgentWhenExpired: true,
		Loader: func(ctx context.Context, key string) (string, time.Duration, error) {
			n := calls.Add(1)
			if n == 1 || healthy.Load() {
				return "token", time.Minute, nil
			}
			return "", 0, errors.New("issuer down")
		},
	})
	defer c.Close()

	received := make(chan string, 4)
	c.Subscribe("content", func(v string) { received <- v })

	_, err := c.Get(context.Background(), "content")
	require.NoError(t, err)
	<-received

	clk.Advance(30 * time.Second) // refresh fails, retry at 40s
	require.Eventually(t, func() bool { return calls.Load() == 2 && clk.Pending() == 1 }, waitFor, tick)
	clk.Advance(10 * time.Second) // fails, retry at 60s
	require.Eventually(t, func() bool { return calls.Load() == 3 && clk.Pending() == 1 }, waitFor, tick)
	clk.Advance(20 * time.Second) // expired: next retry is immediate
	require.Eventually(t, func() bool { return calls.Load() == 4 && clk.Pending() == 1 }, waitFor, tick)

	deadline, _ := clk.NextDeadline()
	assert.Equal(t, epoch.Add(time.Minute), deadline)

	healthy.Store(true)
	clk.Advance(0)

	select {
	case v := <-received:
		assert.Equal(t, "token", v)
	case <-time.After(waitFor):
		t.Fatal("subscriber was not notified after recovery")
	}
}

func TestInvalidateDiscardsInFlightLoad(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	c := New(Options[string, int]{
		Logger: logger.NewNop(),
		Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
			n := calls.Add(1)
			if n == 1 {
				<-release
			}
			return int(n), time.Minute, nil
		},
	})
	defer c.Close()

	done := make(chan int)
	go func() {
		v, _ := c.Get(context.Background(), "k")
		done <- v
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	c.Invalidate("k")
	close(release)
	assert.Equal(t, 1, <-done)

	_, ok := c.Peek("k")
	assert.False(t, ok, "a load started before invalidation must not be cached")

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestInvalidateRacingLoadCompletion(t *testing.T) {
	for i := 0; i < 200; i++ {
		started := make(chan struct{})
		release := make(chan struct{})
		c := New(Options[string, int]{
			Logger: logger.NewNop(),
			Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
				close(started)
				<-release
				return 1, time.Minute, nil
			},
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = c.Get(context.Background(), "k")
		}()
		<-started

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Invalidate("k")
		}()
		close(release)
		wg.Wait()
		<-done

		_, ok := c.Peek("k")
		c.Close()
		require.False(t, ok, "iteration %d: a load overlapping invalidation was cached", i)
	}
}

func TestFirstRetryDelayThenSchedule(t *testing.T) {
	clk := clock.NewFake(epoch)
	var calls atomic.Int32

	c := New(Options[string, string]{
		Logger:           logger.NewNop(),
		Clock:            clk,
		RefreshThreshold: time.Minute,
		Retry:            retry.Policy{Initial: 20 * time.Second, Max: time.Hour, Multiplier: 2, Jitter: 0.25},
		FirstRetryDelay:  3 * time.Second,
		Loader: func(ctx context.Context, key string) (string, time.Duration, error) {
			if calls.Add(1) == 1 {
				return "fresh", 10 * time.Minute, nil
			}
			return "", 0, errors.New("issuer down")
		},
	})
	defer c.Close()

	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	clk.Advance(9 * time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 && clk.Pending() == 1 }, waitFor, tick)
	deadline, _ := clk.NextDeadline()
	assert.Equal(t, epoch.Add(9*time.Minute+3*time.Second), deadline)

	clk.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 3 && clk.Pending() == 1 }, waitFor, tick)
	deadline, _ = clk.NextDeadline()
	wait := deadline.Sub(epoch.Add(9*time.Minute + 3*time.Second))
	assert.GreaterOrEqual(t, wait, 15*time.Second)
	assert.LessOrEqual(t, wait, 25*time.Second)
}

func TestInvalidateReloadsForSubscribers(t *testing.T) {
	var calls atomic.Int32
	c := New(Options[string, int]{
		Logger: logger.NewNop(),
		Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
			return int(calls.Add(1)), time.Minute, nil
		},
	})
	defer c.Close()

	received := make(chan int, 2)
	c.Subscribe("k", func(v int) { received <- v })
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, <-received)

	c.Invalidate("k")

	select {
	case v := <-received:
		assert.Equal(t, 2, v)
	case <-time.After(waitFor):
		t.Fatal("no reload after invalidation")
	}
}

func TestInvalidateFunc(t *testing.T) {
	c := New(Options[string, int]{Logger: logger.NewNop(), Clock: clock.NewFake(epoch)})
	defer c.Close()

	c.Set("license|alice|C1", 1, time.Minute)
	c.Set("progress|alice|C1", 2, time.Minute)
	c.Set("license|bob|C1", 3, time.Minute)

	n := c.InvalidateFunc(func(k string) bool { return strings.HasSuffix(k, "|alice|C1") })

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Peek("license|bob|C1")
	assert.True(t, ok)
}

func TestCloseStopsTimers(t *testing.T) {
	clk := clock.NewFake(epoch)
	var calls atomic.Int32
	c := New(Options[string, int]{
		Logger:           logger.NewNop(),
		Clock:            clk,
		RefreshThreshold: time.Second,
		Loader: func(ctx context.Context, key string) (int, time.Duration, error) {
			calls.Add(1)
			return 1, time.Minute, nil
		},
	})

	_, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, 2, clk.Pending())

	c.Close()
	c.Close()

	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Hour)
	assert.Equal(t, int32(2), calls.Load())

	c.Set("a", 5, time.Minute)
	_, ok := c.Peek("a")
	assert.False(t, ok)
}
