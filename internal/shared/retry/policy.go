// Package retry holds the single backoff policy shared by ledger submission,
// convergence polling and cache refresh.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/config"
)

// Policy describes an exponential backoff: Initial grows by Multiplier per
// attempt, is capped at Max and randomized by ±Jitter.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int // total attempts including the first; 0 means unbounded
}

// Default is base 2 with ±20% jitter.
func Default() Policy {
	return Policy{
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// FromConfig overlays the non-zero fields of cfg on fallback.
func FromConfig(cfg config.RetryConfig, fallback Policy) Policy {
	p := fallback
	if cfg.Initial > 0 {
		p.Initial = cfg.Initial
	}
	if cfg.Max > 0 {
		p.Max = cfg.Max
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter > 0 {
		p.Jitter = cfg.Jitter
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	return p
}

func (p Policy) normalized() Policy {
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// NewBackOff builds a fresh backoff.ExponentialBackOff for this policy.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	p = p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// Schedule is the stateful delay sequence of one retry chain.
type Schedule struct {
	policy   Policy
	b        *backoff.ExponentialBackOff
	attempts int
}

func (p Policy) Schedule() *Schedule {
	p = p.normalized()
	return &Schedule{policy: p, b: p.NewBackOff()}
}

// Next records a failed attempt and returns the delay before the following
// one. ok is false once MaxAttempts attempts have been made.
func (s *Schedule) Next() (delay time.Duration, ok bool) {
	s.attempts++
	if s.policy.MaxAttempts > 0 && s.attempts >= s.policy.MaxAttempts {
		return 0, false
	}
	d := s.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	if d > s.policy.Max {
		d = s.policy.Max
	}
	return d, true
}

// Attempts returns the number of failed attempts recorded so far.
func (s *Schedule) Attempts() int {
	return s.attempts
}

func (s *Schedule) Reset() {
	s.attempts = 0
	s.b.Reset()
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, exhausts the
// policy or ctx ends. Waits go through clk. The last error is returned
// unwrapped from any Permanent marker.
func Do(ctx context.Context, clk clock.Clock, p Policy, op func(ctx context.Context) error) error {
	s := p.Schedule()
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Unwrap()
		}
		delay, ok := s.Next()
		if !ok {
			return err
		}
		if serr := clock.Sleep(ctx, clk, delay); serr != nil {
			return err
		}
	}
}
