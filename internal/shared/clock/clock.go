// Package clock abstracts time so that refresh timers, confirmation polling
// and backoff delays can be driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock is the time source and timer factory used by every scheduled task.
type Clock interface {
	Now() time.Time
	// After waits for d; the channel receives once.
	After(d time.Duration) <-chan time.Time
	// AfterFunc runs f once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop reports whether the call prevented the task from firing.
	Stop() bool
}

type realClock struct{}

// Real returns the wall clock, normalized to UTC.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sleep waits for d on c. It returns ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
