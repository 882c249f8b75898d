package transport

import (
	"sync"
	"time"
)

// Transport names used in Line.Transport and metrics labels.
const (
	NameTCP  = "tcp"
	NameUDP  = "udp"
	NameWS   = "ws"
	NameMQTT = "mqtt"
)

// Line is one received command line.
type Line struct {
	Text       string
	Source     string // remote address or topic
	Transport  string
	ReceivedAt time.Time

	// Reply sends an acknowledgment line back to the sender. It is nil when
	// the transport has acknowledgments disabled.
	Reply func(string) error
}

// Inbox is a capacity-one mailbox between transports and the control loop.
type Inbox struct {
	mu       sync.Mutex
	slot     Line
	full     bool
	replaced int64
	ready    chan struct{}
	now      func() time.Time
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		ready: make(chan struct{}, 1),
		now:   time.Now,
	}
}

// Offer stores l, replacing any unconsumed line. It reports whether a line
// was replaced.
func (b *Inbox) Offer(l Line) bool {
	if l.ReceivedAt.IsZero() {
		l.ReceivedAt = b.now()
	}

	b.mu.Lock()
	replaced := b.full
	if replaced {
		b.replaced++
	}
	b.slot = l
	b.full = true
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return replaced
}

// Poll returns the pending line, if any, without blocking.
func (b *Inbox) Poll() (Line, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return Line{}, false
	}
	l := b.slot
	b.slot = Line{}
	b.full = false
	return l, true
}

// Ready is signalled after an Offer. It lets a poller wake early; Poll
// remains the source of truth.
func (b *Inbox) Ready() <-chan struct{} {
	return b.ready
}

// Replaced returns how many lines were overwritten before being consumed.
func (b *Inbox) Replaced() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replaced
}
