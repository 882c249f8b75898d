package command

import (
	"time"

	"github.com/motor-control/mcn/internal/audit"
	"github.com/motor-control/mcn/internal/metrics"
	"github.com/motor-control/mcn/internal/transport"
)

// Transport yields received lines. Poll must not block.
type Transport interface {
	Poll() (transport.Line, bool)
}

// waker is implemented by transports that can signal a pending line.
type waker interface {
	Ready() <-chan struct{}
}

// AuditLogger writes audit records.
type AuditLogger interface {
	Log(entry audit.Entry)
}

// Recorder receives loop metrics.
type Recorder interface {
	CommandApplied(action string, speedDefaulted bool)
	CommandRejected(reason string)
	WatchdogStop()
	WatchdogActive(active bool)
	DriverError(code string)
	ApplyDuration(d time.Duration)
}

var (
	_ Transport   = (*transport.Inbox)(nil)
	_ waker       = (*transport.Inbox)(nil)
	_ AuditLogger = (*audit.Logger)(nil)
	_ Recorder    = (*metrics.Metrics)(nil)
)

type nopAudit struct{}

func (nopAudit) Log(audit.Entry) {}

type nopRecorder struct{}

func (nopRecorder) CommandApplied(string, bool) {}
func (nopRecorder) CommandRejected(string)      {}
func (nopRecorder) WatchdogStop()               {}
func (nopRecorder) WatchdogActive(bool)         {}
func (nopRecorder) DriverError(string)          {}
func (nopRecorder) ApplyDuration(time.Duration) {}
