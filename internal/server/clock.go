package server

import "time"

// Clock abstracts timer scheduling so the grace-period, idle and typing
// sweeps can be driven by a virtual clock in tests. The real
// implementation delegates to the runtime's monotonic clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

type Timer interface {
	Stop() bool
}

type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realClock struct{}

func NewClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt *realTicker) Chan() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()                  { rt.t.Stop() }

// Now returns the server timestamp applied to outbound events.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
