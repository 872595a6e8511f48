package server

import (
	"sort"
	"sync"
	"time"
)

// FakeClock implements server.Clock with a manually advanced time, so
// grace-period, idle and typing sweep behavior can be tested without
// sleeping.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	t := &fakeTimer{mu: &fc.mu, at: fc.now.Add(d), f: f}
	fc.timers = append(fc.timers, t)
	return t
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	tk := &fakeTicker{mu: &fc.mu, interval: d, next: fc.now.Add(d), c: make(chan time.Time, 1)}
	fc.tickers = append(fc.tickers, tk)
	return tk
}

// Advance moves the clock forward, firing due timers in order and
// delivering due ticks. Timer callbacks run synchronously on the
// caller's goroutine.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	fc.now = fc.now.Add(d)
	now := fc.now

	var due []*fakeTimer
	var pending []*fakeTimer
	for _, t := range fc.timers {
		if !t.stopped && !t.at.After(now) {
			due = append(due, t)
		} else if !t.stopped {
			pending = append(pending, t)
		}
	}
	fc.timers = pending
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })

	for _, tk := range fc.tickers {
		if tk.stopped {
			continue
		}
		for !tk.next.After(now) {
			select {
			case tk.c <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.interval)
		}
	}
	fc.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type fakeTimer struct {
	mu      *sync.Mutex
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.stopped
	t.stopped = true
	return !was
}

type fakeTicker struct {
	mu       *sync.Mutex
	interval time.Duration
	next     time.Time
	c        chan time.Time
	stopped  bool
}

func (tk *fakeTicker) Chan() <-chan time.Time { return tk.c }

func (tk *fakeTicker) Stop() {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.stopped = true
}
