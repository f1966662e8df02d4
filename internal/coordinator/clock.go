package coordinator

import "time"

// clock abstracts wall-clock time behind a seam a test can drive with
// virtual time, so the 30s connect deadline and 60s reconcile ticker never
// cost a test real seconds.
type clock interface {
	now() time.Time
	after(d time.Duration) <-chan time.Time
	newTicker(d time.Duration) ticker
}

type ticker interface {
	c() <-chan time.Time
	stop()
}

// realClock is the production clock, backed by the time package.
type realClock struct{}

func (realClock) now() time.Time                   { return time.Now() }
func (realClock) after(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) newTicker(d time.Duration) ticker  { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) c() <-chan time.Time { return r.t.C }
func (r *realTicker) stop()               { r.t.Stop() }
