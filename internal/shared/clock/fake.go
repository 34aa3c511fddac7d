package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock. Timers fire only from Advance or Set.
// With auto-advance enabled, After returns immediately and moves the clock
// forward, so blocking retry loops run without waiting.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	timers      []*fakeTimer
	seq         int
	autoAdvance bool
}

type fakeTimer struct {
	clock *Fake
	at    time.Time
	seq   int
	fn    func()
	ch    chan time.Time
	done  bool
}

// NewFake returns a fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewAutoFake returns a fake clock whose After calls advance time instantly.
func NewAutoFake(start time.Time) *Fake {
	return &Fake{now: start, autoAdvance: true}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	auto := f.autoAdvance
	f.mu.Unlock()

	if auto {
		f.Advance(d)
		ch := make(chan time.Time, 1)
		ch <- f.Now()
		return ch
	}

	ch := make(chan time.Time, 1)
	f.schedule(d, nil, ch)
	return ch
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.schedule(d, fn, nil)
}

func (f *Fake) schedule(d time.Duration, fn func(), ch chan time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, at: f.now.Add(d), seq: f.seq, fn: fn, ch: ch}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in order.
func (f *Fake) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

// Set moves the clock to t. Callbacks run synchronously, outside the lock,
// and may schedule further timers which fire if they are also due.
func (f *Fake) Set(t time.Time) {
	for {
		f.mu.Lock()
		due := f.popDue(t)
		if due == nil {
			if t.After(f.now) {
				f.now = t
			}
			f.mu.Unlock()
			return
		}
		if due.at.After(f.now) {
			f.now = due.at
		}
		now := f.now
		f.mu.Unlock()

		if due.fn != nil {
			due.fn()
		}
		if due.ch != nil {
			due.ch <- now
		}
	}
}

func (f *Fake) popDue(t time.Time) *fakeTimer {
	sort.Slice(f.timers, func(i, j int) bool {
		if f.timers[i].at.Equal(f.timers[j].at) {
			return f.timers[i].seq < f.timers[j].seq
		}
		return f.timers[i].at.Before(f.timers[j].at)
	})
	if len(f.timers) == 0 || f.timers[0].at.After(t) {
		return nil
	}
	due := f.timers[0]
	f.timers = f.timers[1:]
	due.done = true
	return due
}

// Pending returns the number of scheduled, unfired timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// NextDeadline returns when the earliest pending timer fires.
func (f *Fake) NextDeadline() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next time.Time
	for _, t := range f.timers {
		if next.IsZero() || t.at.Before(next) {
			next = t.at
		}
	}
	return next, !next.IsZero()
}

func (t *fakeTimer) Stop() bool {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, other := range f.timers {
		if other == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			break
		}
	}
	return true
}
