package command

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/motor-control/mcn/internal/audit"
	"github.com/motor-control/mcn/internal/config"
	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/logging"
	"github.com/motor-control/mcn/internal/motor"
	"github.com/motor-control/mcn/internal/telemetry"
	"github.com/motor-control/mcn/internal/transport"
	"github.com/motor-control/mcn/internal/watchdog"
)

// StepKind classifies what a single loop iteration did.
type StepKind uint8

const (
	// StepIdle: no line and the watchdog is still active.
	StepIdle StepKind = iota
	// StepApplied: a line was parsed and its output sent to the driver.
	StepApplied
	// StepRejected: a line failed to parse; nothing was applied.
	StepRejected
	// StepWatchdogStop: no line and the watchdog has expired; STOP was applied.
	StepWatchdogStop
)

func (k StepKind) String() string {
	switch k {
	case StepApplied:
		return "applied"
	case StepRejected:
		return "rejected"
	case StepWatchdogStop:
		return "watchdogStop"
	default:
		return "idle"
	}
}

// StepResult describes one iteration of the loop.
type StepResult struct {
	Kind    StepKind
	Line    transport.Line
	Command drive.Command
	Output  drive.MotorOutput

	// Err is the parse error for StepRejected, or the normalized driver
	// error when Apply failed.
	Err error

	// Edge is set on the step where the watchdog went from active to timed out.
	Edge bool
}

// Snapshot is a point-in-time view of the loop for the status API.
type Snapshot struct {
	State         watchdog.State    `json:"state"`
	RemainingMs   int64             `json:"remainingMs"`
	LastCommand   string            `json:"lastCommand,omitempty"`
	LastSource    string            `json:"lastSource,omitempty"`
	LastTransport string            `json:"lastTransport,omitempty"`
	LastCommandAt *time.Time        `json:"lastCommandAt,omitempty"`
	Output        drive.MotorOutput `json:"output"`
	Driver        DriverInfo        `json:"driver"`
	Counters      Counters          `json:"counters"`
}

// DriverInfo identifies the motor driver.
type DriverInfo struct {
	ID     string `json:"id,omitempty"`
	Model  string `json:"model,omitempty"`
	Status string `json:"status,omitempty"`
}

// Counters are cumulative loop totals.
type Counters struct {
	Applied       uint64 `json:"applied"`
	Rejected      uint64 `json:"rejected"`
	WatchdogStops uint64 `json:"watchdogStops"`
	DriverErrors  uint64 `json:"driverErrors"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithAudit sets the audit logger.
func WithAudit(a AuditLogger) Option {
	return func(l *Loop) { l.audit = a }
}

// WithPublisher sets the telemetry publisher.
func WithPublisher(p telemetry.Publisher) Option {
	return func(l *Loop) { l.pub = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.rec = r }
}

// Loop is the control loop.
type Loop struct {
	parser       drive.Parser
	mapper       drive.Mapper
	timeout      time.Duration
	pollInterval time.Duration
	applyTimeout time.Duration

	src    Transport
	driver motor.Driver
	wd     *watchdog.Watchdog

	now   func() time.Time
	log   *slog.Logger
	audit AuditLogger
	pub   telemetry.Publisher
	rec   Recorder

	// Loop-goroutine state.
	state       watchdog.State
	stopFailing bool

	mu       sync.Mutex
	last     drive.Command
	lastLine transport.Line
	hasLast  bool
	output   drive.MotorOutput
	counters Counters
}

// NewLoop builds a loop from a validated configuration.
func NewLoop(cfg *config.Config, src Transport, driver motor.Driver, opts ...Option) *Loop {
	l := &Loop{
		parser:       cfg.Parser(),
		mapper:       cfg.Mapper(),
		timeout:      cfg.Watchdog.Timeout,
		pollInterval: cfg.Watchdog.PollInterval,
		applyTimeout: cfg.Motor.ApplyTimeout,
		src:          src,
		driver:       driver,
		wd:           watchdog.New(),
		now:          time.Now,
		log:          logging.NewNop(),
		audit:        nopAudit{},
		pub:          telemetry.Multi(),
		rec:          nopRecorder{},
		state:        watchdog.TimedOut,
		output:       drive.StopOutput(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.pollInterval <= 0 {
		l.pollInterval = 10 * time.Millisecond
	}
	return l
}

// Watchdog exposes the loop's watchdog for read-only use.
func (l *Loop) Watchdog() *watchdog.Watchdog {
	return l.wd
}

// Step performs one iteration: handle a pending line, or enforce the
// watchdog when none is pending.
func (l *Loop) Step(ctx context.Context) StepResult {
	line, ok := l.src.Poll()
	if ok {
		return l.handleLine(ctx, line)
	}
	return l.enforceWatchdog(ctx)
}

func (l *Loop) handleLine(ctx context.Context, line transport.Line) StepResult {
	cmd, err := l.parser.Parse(line.Text)
	if err != nil {
		return l.reject(line, err)
	}

	out := l.mapper.Map(cmd)
	now := l.now()
	applyErr := l.apply(ctx, out)

	// The command was accepted even if the driver failed.
	l.wd.Record(now)
	if l.state != watchdog.Active {
		l.state = watchdog.Active
		l.stopFailing = false
		l.rec.WatchdogActive(true)
	}

	l.mu.Lock()
	l.last = cmd
	l.lastLine = line
	l.hasLast = true
	if applyErr == nil {
		l.output = out
		l.counters.Applied++
	} else {
		l.counters.DriverErrors++
	}
	l.mu.Unlock()

	res := StepResult{Kind: StepApplied, Line: line, Command: cmd, Output: out, Err: applyErr}

	if applyErr != nil {
		l.log.Error("Driver rejected command output",
			"command", cmd.String(), "source", line.Source, "output", out.String(), "error", applyErr)
		l.publish(telemetry.EventFault, map[string]any{
			"command": cmd.String(),
			"code":    motor.Code(applyErr),
			"message": applyErr.Error(),
		})
		l.audit.Log(audit.Entry{
			Source:  line.Source,
			Action:  cmd.Action.String(),
			Params:  commandParams(cmd, line),
			Outcome: audit.OutcomeFault,
			Code:    motor.Code(applyErr),
		})
		return res
	}

	l.rec.CommandApplied(cmd.Action.String(), cmd.SpeedDefaulted)

	if cmd.SpeedDefaulted {
		l.log.Warn("Malformed speed, using default",
			"line", line.Text, "source", line.Source, "speed", cmd.Speed)
	}
	l.log.Debug("Command applied", "command", cmd.String(), "source", line.Source, "output", out.String())

	if line.Reply != nil {
		if err := line.Reply(drive.Ack(cmd, out)); err != nil {
			l.log.Debug("Failed to send acknowledgment", "source", line.Source, "error", err)
		}
	}

	l.publish(telemetry.EventCommand, map[string]any{
		"action":    cmd.Action.String(),
		"speed":     cmd.SpeedOr(l.mapper.DefaultSpeed),
		"defaulted": cmd.SpeedDefaulted,
		"source":    line.Source,
		"transport": line.Transport,
		"output":    out,
	})

	code := drive.Code(nil)
	if cmd.SpeedDefaulted {
		code = drive.Code(drive.ErrMalformedSpeed)
	}
	l.audit.Log(audit.Entry{
		Source:  line.Source,
		Action:  cmd.Action.String(),
		Params:  commandParams(cmd, line),
		Outcome: audit.OutcomeSuccess,
		Code:    code,
	})
	return res
}

func (l *Loop) reject(line transport.Line, err error) StepResult {
	code := drive.Code(err)
	l.rec.CommandRejected(code)

	l.mu.Lock()
	l.counters.Rejected++
	l.mu.Unlock()

	res := StepResult{Kind: StepRejected, Line: line, Err: err}

	if errors.Is(err, drive.ErrEmptyCommand) {
		l.log.Debug("Ignored empty line", "source", line.Source)
		return res
	}

	l.log.Warn("Rejected command", "line", line.Text, "source", line.Source, "error", err)
	l.publish(telemetry.EventRejected, map[string]any{
		"line":   line.Text,
		"source": line.Source,
		"code":   code,
	})
	l.audit.Log(audit.Entry{
		Source:  line.Source,
		Action:  "command",
		Params:  map[string]any{"line": line.Text, "transport": line.Transport},
		Outcome: audit.OutcomeRejected,
		Code:    code,
	})
	return res
}

func (l *Loop) enforceWatchdog(ctx context.Context) StepResult {
	now := l.now()
	if !l.wd.IsExpired(now, l.timeout) {
		return StepResult{Kind: StepIdle}
	}

	stop := drive.StopOutput()
	err := l.apply(ctx, stop)

	edge := l.state == watchdog.Active
	l.state = watchdog.TimedOut

	l.mu.Lock()
	if err == nil {
		l.output = stop
	}
	if edge {
		l.counters.WatchdogStops++
	}
	if err != nil {
		l.counters.DriverErrors++
	}
	l.mu.Unlock()

	if edge {
		last, _ := l.wd.LastCommandAt()
		l.log.Warn("Watchdog expired, motors stopped",
			"timeout", l.timeout, "idle", now.Sub(last))
		l.rec.WatchdogStop()
		l.rec.WatchdogActive(false)
		l.publish(telemetry.EventWatchdog, map[string]any{
			"state":     watchdog.TimedOut.String(),
			"timeoutMs": l.timeout.Milliseconds(),
		})
		l.audit.Log(audit.Entry{
			Action:  drive.Stop.String(),
			Params:  map[string]any{"timeoutMs": l.timeout.Milliseconds()},
			Outcome: audit.OutcomeWatchdogStop,
			Code:    drive.Code(nil),
		})
	}

	switch {
	case err != nil && !l.stopFailing:
		l.stopFailing = true
		l.log.Error("Failed to apply watchdog stop", "error", err)
		l.publish(telemetry.EventFault, map[string]any{
			"command": drive.Stop.String(),
			"code":    motor.Code(err),
			"message": err.Error(),
		})
	case err == nil && l.stopFailing:
		l.stopFailing = false
		l.log.Info("Watchdog stop applied after driver recovery")
	}

	return StepResult{Kind: StepWatchdogStop, Output: stop, Err: err, Edge: edge}
}

// apply sends out to the driver under the configured timeout and returns a
// normalized error.
func (l *Loop) apply(ctx context.Context, out drive.MotorOutput) error {
	if l.applyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.applyTimeout)
		defer cancel()
	}

	start := time.Now()
	err := l.driver.Apply(ctx, out)
	l.rec.ApplyDuration(time.Since(start))
	if err == nil {
		return nil
	}

	_, model, _ := motor.Describe(l.driver)
	normalized := motor.NormalizeDriverErrorFor(err, out, model)
	l.rec.DriverError(motor.Code(normalized))
	return normalized
}

func (l *Loop) publish(eventType string, data map[string]any) {
	err := l.pub.Publish(telemetry.Event{
		Type: eventType,
		TS:   l.now().UTC(),
		Data: data,
	})
	if err != nil {
		l.log.Warn("Failed to publish telemetry event", "type", eventType, "error", err)
	}
}

// Run steps the loop every poll interval until ctx is done, waking early
// when the transport signals a pending line. It applies a final STOP before
// returning.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	var ready <-chan struct{}
	if w, ok := l.src.(waker); ok {
		ready = w.Ready()
	}

	l.log.Info("Control loop started",
		"timeout", l.timeout, "pollInterval", l.pollInterval, "turnPolicy", string(l.mapper.TurnPolicy))

	for {
		l.Step(ctx)

		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-ticker.C:
		case <-ready:
		}
	}
}

func (l *Loop) shutdown() error {
	timeout := l.applyTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stop := drive.StopOutput()
	if err := l.apply(ctx, stop); err != nil {
		l.log.Error("Failed to apply shutdown stop", "error", err)
		return err
	}

	l.mu.Lock()
	l.output = stop
	l.mu.Unlock()
	l.log.Info("Control loop stopped, motors halted")
	return nil
}

// Snapshot returns the current loop state. Safe to call from any goroutine.
func (l *Loop) Snapshot() Snapshot {
	now := l.now()

	l.mu.Lock()
	s := Snapshot{
		Output:   l.output,
		Counters: l.counters,
	}
	if l.hasLast {
		s.LastCommand = l.last.String()
		s.LastSource = l.lastLine.Source
		s.LastTransport = l.lastLine.Transport
	}
	l.mu.Unlock()

	s.State = l.wd.State(now, l.timeout)
	s.RemainingMs = l.wd.Remaining(now, l.timeout).Milliseconds()
	if at, ok := l.wd.LastCommandAt(); ok {
		at = at.UTC()
		s.LastCommandAt = &at
	}
	s.Driver.ID, s.Driver.Model, s.Driver.Status = motor.Describe(l.driver)
	return s
}

func commandParams(cmd drive.Command, line transport.Line) map[string]any {
	p := map[string]any{
		"line":      line.Text,
		"transport": line.Transport,
	}
	if cmd.HasSpeed {
		p["speed"] = cmd.Speed
	}
	if cmd.SpeedDefaulted {
		p["speedDefaulted"] = true
	}
	return p
}
