package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motor-control/mcn/internal/audit"
	"github.com/motor-control/mcn/internal/config"
	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/motor"
	"github.com/motor-control/mcn/internal/motor/fake"
	"github.com/motor-control/mcn/internal/telemetry"
	"github.com/motor-control/mcn/internal/transport"
	"github.com/motor-control/mcn/internal/watchdog"
)

// queue is a scripted transport.
type queue struct {
	lines []transport.Line
}

func (q *queue) push(text string) *[]string {
	var acks []string
	q.lines = append(q.lines, transport.Line{
		Text:      text,
		Source:    "10.0.0.5:40000",
		Transport: transport.NameTCP,
		Reply: func(msg string) error {
			acks = append(acks, msg)
			return nil
		},
	})
	return &acks
}

func (q *queue) Poll() (transport.Line, bool) {
	if len(q.lines) == 0 {
		return transport.Line{}, false
	}
	l := q.lines[0]
	q.lines = q.lines[1:]
	return l, true
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type auditSink struct {
	entries []audit.Entry
}

func (a *auditSink) Log(e audit.Entry) { a.entries = append(a.entries, e) }

type eventSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *eventSink) Publish(e telemetry.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) ofType(t string) []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recorder struct {
	nopRecorder
	applied  []string
	rejected []string
	stops    int
	errors   []string
}

func (r *recorder) CommandApplied(action string, _ bool) { r.applied = append(r.applied, action) }
func (r *recorder) CommandRejected(reason string)        { r.rejected = append(r.rejected, reason) }
func (r *recorder) WatchdogStop()                        { r.stops++ }
func (r *recorder) DriverError(code string)              { r.errors = append(r.errors, code) }

type harness struct {
	cfg    *config.Config
	src    *queue
	driver *fake.Driver
	clock  *manualClock
	audit  *auditSink
	events *eventSink
	rec    *recorder
	loop   *Loop
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))

	h := &harness{
		cfg:    cfg,
		src:    &queue{},
		driver: fake.New("test"),
		clock:  newClock(),
		audit:  &auditSink{},
		events: &eventSink{},
		rec:    &recorder{},
	}
	h.loop = NewLoop(cfg, h.src, h.driver,
		WithClock(h.clock.Now),
		WithAudit(h.audit),
		WithPublisher(h.events),
		WithRecorder(h.rec),
	)
	return h
}

func out(l drive.Polarity, ld uint8, r drive.Polarity, rd uint8) drive.MotorOutput {
	return drive.MotorOutput{
		Left:  drive.SideOutput{Polarity: l, Duty: ld},
		Right: drive.SideOutput{Polarity: r, Duty: rd},
	}
}

func TestForwardWithSpeed(t *testing.T) {
	h := newHarness(t, nil)
	acks := h.src.push("FORWARD 120\n")

	res := h.loop.Step(context.Background())

	require.Equal(t, StepApplied, res.Kind)
	require.NoError(t, res.Err)
	want := out(drive.PolarityForward, 120, drive.PolarityForward, 120)
	assert.Equal(t, want, res.Output)
	assert.Equal(t, []drive.MotorOutput{want}, h.driver.Outputs())
	assert.Equal(t, []string{"Command executed: FORWARD with speed 120"}, *acks)
	assert.Equal(t, []string{"FORWARD"}, h.rec.applied)

	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, audit.OutcomeSuccess, h.audit.entries[0].Outcome)
	assert.Equal(t, "SUCCESS", h.audit.entries[0].Code)
	assert.Len(t, h.events.ofType(telemetry.EventCommand), 1)
}

func TestStopCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.src.push("STOP\n")

	res := h.loop.Step(context.Background())

	require.Equal(t, StepApplied, res.Kind)
	assert.True(t, res.Output.IsStop())
	assert.Equal(t, drive.StopOutput(), res.Output)
	assert.Equal(t, watchdog.Active, h.loop.Snapshot().State, "STOP is a command and feeds the watchdog")
}

func TestLeftTurnPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		want   drive.MotorOutput
	}{
		{
			name:   "fixed",
			policy: "fixed",
			want:   out(drive.PolarityReverse, 100, drive.PolarityForward, 100),
		},
		{
			name:   "proportional",
			policy: "proportional",
			want:   out(drive.PolarityReverse, 200, drive.PolarityForward, 200),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.Config) {
				c.Drive.DefaultSpeed = 200
				c.Drive.TurnPolicy = tt.policy
				c.Drive.FixedTurnSpeed = 100
			})
			h.src.push("LEFT\n")

			res := h.loop.Step(context.Background())
			require.Equal(t, StepApplied, res.Kind)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestWatchdogForcesStopOncePerIdlePoll(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Watchdog.Timeout = 500 * time.Millisecond
	})
	h.src.push("FORWARD 120")
	require.Equal(t, StepApplied, h.loop.Step(context.Background()).Kind)

	// Exactly at the timeout the watchdog is still active.
	h.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, StepIdle, h.loop.Step(context.Background()).Kind)

	h.clock.Advance(time.Millisecond)
	first := h.loop.Step(context.Background())
	require.Equal(t, StepWatchdogStop, first.Kind)
	assert.True(t, first.Edge)
	assert.True(t, first.Output.IsStop())

	h.clock.Advance(10 * time.Millisecond)
	second := h.loop.Step(context.Background())
	require.Equal(t, StepWatchdogStop, second.Kind)
	assert.False(t, second.Edge)

	outputs := h.driver.Outputs()
	require.Len(t, outputs, 3, "one command plus one stop per idle poll")
	assert.True(t, outputs[1].IsStop())
	assert.True(t, outputs[2].IsStop())

	// Edge side effects happen once.
	assert.Equal(t, 1, h.rec.stops)
	assert.Len(t, h.events.ofType(telemetry.EventWatchdog), 1)
	var stops int
	for _, e := range h.audit.entries {
		if e.Outcome == audit.OutcomeWatchdogStop {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
	assert.Equal(t, uint64(1), h.loop.Snapshot().Counters.WatchdogStops)
}

func TestStartupIsTimedOut(t *testing.T) {
	h := newHarness(t, nil)

	res := h.loop.Step(context.Background())

	assert.Equal(t, StepWatchdogStop, res.Kind)
	assert.False(t, res.Edge, "no active-to-timed-out edge at startup")
	assert.Equal(t, []drive.MotorOutput{drive.StopOutput()}, h.driver.Outputs())
	assert.Empty(t, h.events.ofType(telemetry.EventWatchdog))
	assert.Equal(t, watchdog.TimedOut, h.loop.Snapshot().State)
}

func TestMalformedSpeedUsesDefault(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Drive.DefaultSpeed = 200
		c.Drive.TurnPolicy = "proportional"
	})
	h.src.push("RIGHT abc\n")

	res := h.loop.Step(context.Background())

	require.Equal(t, StepApplied, res.Kind)
	require.NoError(t, res.Err)
	assert.Equal(t, drive.Right, res.Command.Action)
	assert.Equal(t, uint8(200), res.Command.Speed)
	assert.True(t, res.Command.SpeedDefaulted)
	assert.Equal(t, out(drive.PolarityForward, 200, drive.PolarityReverse, 200), res.Output)

	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, audit.OutcomeSuccess, h.audit.entries[0].Outcome)
	assert.Equal(t, "MALFORMED_SPEED", h.audit.entries[0].Code)
}

func TestUnknownCommandRejected(t *testing.T) {
	h := newHarness(t, nil)
	acks := h.src.push("JUMP 10\n")

	res := h.loop.Step(context.Background())

	require.Equal(t, StepRejected, res.Kind)
	assert.True(t, errors.Is(res.Err, drive.ErrUnknownCommand))
	assert.Empty(t, h.driver.Outputs())
	assert.Empty(t, *acks)
	assert.Equal(t, []string{"UNKNOWN_COMMAND"}, h.rec.rejected)

	_, ok := h.loop.Watchdog().LastCommandAt()
	assert.False(t, ok, "rejected lines do not feed the watchdog")

	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, audit.OutcomeRejected, h.audit.entries[0].Outcome)
	assert.Equal(t, "UNKNOWN_COMMAND", h.audit.entries[0].Code)
	assert.Len(t, h.events.ofType(telemetry.EventRejected), 1)
}

func TestEmptyLineDroppedSilently(t *testing.T) {
	h := newHarness(t, nil)
	h.src.push("\r\n")

	res := h.loop.Step(context.Background())

	require.Equal(t, StepRejected, res.Kind)
	assert.True(t, errors.Is(res.Err, drive.ErrEmptyCommand))
	assert.Empty(t, h.audit.entries)
	assert.Empty(t, h.events.ofType(telemetry.EventRejected))
	assert.Equal(t, uint64(1), h.loop.Snapshot().Counters.Rejected)
}

func TestDriverErrorStillFeedsWatchdog(t *testing.T) {
	h := newHarness(t, nil)
	h.driver.SetErrorSimulation("BUSY")
	acks := h.src.push("BACKWARD 50")

	res := h.loop.Step(context.Background())

	require.Equal(t, StepApplied, res.Kind)
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, motor.ErrBusy))
	assert.Empty(t, *acks)
	assert.Equal(t, []string{"BUSY"}, h.rec.errors)

	_, ok := h.loop.Watchdog().LastCommandAt()
	assert.True(t, ok)

	faults := h.events.ofType(telemetry.EventFault)
	require.Len(t, faults, 1)
	assert.Equal(t, "BUSY", faults[0].Data["code"])

	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, audit.OutcomeFault, h.audit.entries[0].Outcome)
	assert.Equal(t, "BUSY", h.audit.entries[0].Code)

	snap := h.loop.Snapshot()
	assert.Equal(t, uint64(1), snap.Counters.DriverErrors)
	assert.Equal(t, "fault", snap.Driver.Status)
}

func TestWatchdogStopFaultReportedOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.driver.SetErrorSimulation("UNAVAILABLE")

	for i := 0; i < 3; i++ {
		res := h.loop.Step(context.Background())
		require.Equal(t, StepWatchdogStop, res.Kind)
		assert.True(t, errors.Is(res.Err, motor.ErrUnavailable))
	}
	assert.Len(t, h.events.ofType(telemetry.EventFault), 1)
	assert.Len(t, h.rec.errors, 3)
}

func TestLatestLineWins(t *testing.T) {
	h := newHarness(t, nil)
	inbox := transport.NewInbox()
	h.loop.src = inbox

	inbox.Offer(transport.Line{Text: "FORWARD 10"})
	inbox.Offer(transport.Line{Text: "BACKWARD 20"})

	res := h.loop.Step(context.Background())
	require.Equal(t, StepApplied, res.Kind)
	assert.Equal(t, drive.Backward, res.Command.Action)

	next := h.loop.Step(context.Background())
	assert.NotEqual(t, StepApplied, next.Kind)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.src.push("FORWARD 99")
	h.loop.Step(context.Background())
	h.clock.Advance(100 * time.Millisecond)

	snap := h.loop.Snapshot()
	assert.Equal(t, watchdog.Active, snap.State)
	assert.Equal(t, int64(400), snap.RemainingMs)
	assert.Equal(t, "FORWARD 99", snap.LastCommand)
	assert.Equal(t, "10.0.0.5:40000", snap.LastSource)
	assert.Equal(t, transport.NameTCP, snap.LastTransport)
	require.NotNil(t, snap.LastCommandAt)
	assert.Equal(t, uint8(99), snap.Output.Left.Duty)
	assert.Equal(t, uint64(1), snap.Counters.Applied)
	assert.Equal(t, "test", snap.Driver.ID)
	assert.Equal(t, "fake", snap.Driver.Model)
}

func TestRunAppliesFinalStop(t *testing.T) {
	cfg := config.Default()
	cfg.Watchdog.PollInterval = time.Millisecond
	inbox := transport.NewInbox()
	driver := fake.New("run")
	loop := NewLoop(cfg, inbox, driver)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	inbox.Offer(transport.Line{Text: "FORWARD 180"})
	require.Eventually(t, func() bool {
		for _, o := range driver.Outputs() {
			if o.Left.Duty == 180 {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	last, ok := driver.Last()
	require.True(t, ok)
	assert.Equal(t, drive.StopOutput(), last)
}
