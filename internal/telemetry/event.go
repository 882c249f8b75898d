package telemetry

import (
	"errors"
	"time"
)

// Event types.
const (
	EventReady     = "ready"
	EventHeartbeat = "heartbeat"
	EventCommand   = "command"
	EventRejected  = "rejected"
	EventWatchdog  = "watchdog"
	EventFault     = "fault"
)

// Event is a telemetry event.
type Event struct {
	ID   int64          `json:"id,omitempty"`
	Type string         `json:"type"`
	TS   time.Time      `json:"ts"`
	Data map[string]any `json:"data"`
}

// Publisher accepts telemetry events. Implementations must not block the
// caller for long; the control loop publishes inline.
type Publisher interface {
	Publish(event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event) error

// Publish calls f.
func (f PublisherFunc) Publish(e Event) error {
	return f(e)
}

// Multi fans events out to every non-nil publisher. All publishers are called
// even if some fail; the errors are joined.
func Multi(pubs ...Publisher) Publisher {
	var active []Publisher
	for _, p := range pubs {
		if p != nil {
			active = append(active, p)
		}
	}
	return multi(active)
}

type multi []Publisher

func (m multi) Publish(e Event) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	var errs []error
	for _, p := range m {
		if err := p.Publish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
