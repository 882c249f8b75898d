// Package watchdog tracks command recency and decides when motion must be
// forced to stop.
//
// The watchdog starts in the TimedOut state: until the first command is
// recorded the node is considered starved and the loop keeps the motors
// halted.
package watchdog

import (
	"sync/atomic"
	"time"
)

// State is the logical watchdog state.
type State uint8

const (
	// TimedOut means no command was accepted within the timeout, or none ever was.
	TimedOut State = iota
	// Active means a command was accepted within the timeout.
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "timedOut"
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Watchdog holds the instant of the last accepted command. The zero value is
// ready to use and reports never commanded.
//
// Elapsed time is measured with time.Time.Sub, so instants taken from
// time.Now compare on the monotonic clock and a wall clock step does not move
// the deadline. When the clock goes backwards anyway (instants without a
// monotonic reading) the watchdog treats itself as expired.
type Watchdog struct {
	// last is nil until the first record.
	last atomic.Pointer[time.Time]
}

// New returns a watchdog in the never-commanded state.
func New() *Watchdog {
	return &Watchdog{}
}

// Record stores now as the last command instant. An instant earlier than the
// stored one is ignored so the value never moves backwards.
func (w *Watchdog) Record(now time.Time) {
	next := &now
	for {
		cur := w.last.Load()
		if cur != nil && !now.After(*cur) {
			return
		}
		if w.last.CompareAndSwap(cur, next) {
			return
		}
	}
}

// IsExpired reports whether more than timeout has passed since the last
// record. A watchdog that was never commanded is always expired.
func (w *Watchdog) IsExpired(now time.Time, timeout time.Duration) bool {
	elapsed, ok := w.elapsed(now)
	if !ok {
		return true
	}
	return elapsed > timeout
}

// State returns Active or TimedOut for the given instant.
func (w *Watchdog) State(now time.Time, timeout time.Duration) State {
	if w.IsExpired(now, timeout) {
		return TimedOut
	}
	return Active
}

// LastCommandAt returns the last recorded instant and whether one exists.
func (w *Watchdog) LastCommandAt() (time.Time, bool) {
	last := w.last.Load()
	if last == nil {
		return time.Time{}, false
	}
	return last.Round(0), true
}

// Remaining returns the time left before expiry, or 0 when already expired.
func (w *Watchdog) Remaining(now time.Time, timeout time.Duration) time.Duration {
	elapsed, ok := w.elapsed(now)
	if !ok || elapsed > timeout {
		return 0
	}
	return timeout - elapsed
}

// elapsed returns now minus the last record. ok is false when nothing was
// recorded or when now is earlier than the record.
func (w *Watchdog) elapsed(now time.Time) (time.Duration, bool) {
	last := w.last.Load()
	if last == nil {
		return 0, false
	}
	d := now.Sub(*last)
	if d < 0 {
		return 0, false
	}
	return d, true
}
