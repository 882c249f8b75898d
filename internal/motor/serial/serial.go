// Package serial drives a motor controller attached over a serial link.
//
// The controller owns the H-bridge and PWM hardware; this driver only sends
// one frame per output:
//
//	M <L><duty> <R><duty>\n
//
// where <L> and <R> are F (forward) or R (reverse) and duty is 0-255, for
// example "M F120 F120\n".
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	bugst "go.bug.st/serial"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/motor"
)

// Model is the error-mapping model for this driver.
const Model = "serial"

// closeStopTimeout bounds the final stop frame written by Close.
const closeStopTimeout = 500 * time.Millisecond

var (
	// ErrPortClosed is returned by Apply after Close.
	ErrPortClosed = errors.New("port closed")
	// ErrWritePending is returned while an earlier frame is still blocked in
	// the port.
	ErrWritePending = fmt.Errorf("frame write pending: %w", motor.ErrBusy)
)

// Options configures the serial link.
type Options struct {
	Port     string
	BaudRate int
}

// Driver writes output frames to a serial port. Each write runs on its own
// goroutine so a stalled link cannot hold Apply past its context; at most one
// write is outstanding.
type Driver struct {
	*motor.DriverBase

	mu      sync.Mutex
	port    io.WriteCloser
	closed  bool
	pending chan struct{}
	last    drive.MotorOutput
	sent    bool
}

// Open opens the configured port and returns a driver for it.
func Open(opts Options) (*Driver, error) {
	mode := &bugst.Mode{BaudRate: opts.BaudRate}
	port, err := bugst.Open(opts.Port, mode)
	if err != nil {
		return nil, motor.NormalizeDriverErrorFor(fmt.Errorf("open %s: %w", opts.Port, err), opts, Model)
	}
	return New(opts.Port, port), nil
}

// New wraps an already open port.
func New(name string, port io.WriteCloser) *Driver {
	return &Driver{
		DriverBase: motor.NewDriverBase("serial:"+name, Model),
		port:       port,
	}
}

// Frame encodes out in the controller's wire format.
func Frame(out drive.MotorOutput) []byte {
	return []byte(fmt.Sprintf("M %c%d %c%d\n",
		out.Left.Polarity.Letter(), out.Left.Duty,
		out.Right.Polarity.Letter(), out.Right.Duty))
}

// Apply sends one frame for out and waits for it until ctx is done.
func (d *Driver) Apply(ctx context.Context, out drive.MotorOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return motor.NormalizeDriverErrorFor(ErrPortClosed, nil, Model)
	}
	done, err := d.startWrite(out)
	d.mu.Unlock()

	if err == nil {
		err = wait(ctx, done)
	}
	if err != nil {
		d.SetStatus(motor.StatusFault)
		return motor.NormalizeDriverErrorFor(err, out, Model)
	}

	d.SetStatus(motor.StatusOnline)
	return nil
}

// startWrite launches the write of one frame. The caller holds d.mu.
func (d *Driver) startWrite(out drive.MotorOutput) (<-chan error, error) {
	if d.pending != nil {
		select {
		case <-d.pending:
		default:
			return nil, ErrWritePending
		}
	}

	frame := Frame(out)
	pending := make(chan struct{})
	done := make(chan error, 1)
	d.pending = pending

	go func() {
		defer close(pending)
		err := writeFrame(d.port, frame)
		if err == nil {
			d.mu.Lock()
			d.last = out
			d.sent = true
			d.mu.Unlock()
		}
		done <- err
	}()
	return done, nil
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write frame: %w", ctx.Err())
	}
}

func writeFrame(w io.Writer, frame []byte) error {
	n, err := w.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("write frame: short write %d/%d: %w", n, len(frame), io.ErrShortWrite)
	}
	return nil
}

// Last returns the last frame successfully written.
func (d *Driver) Last() (drive.MotorOutput, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.sent
}

// Close sends a final stop frame and closes the port. The stop frame is
// skipped when an earlier write is still stuck in the port.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.SetStatus(motor.StatusClosed)
	done, stopErr := d.startWrite(drive.StopOutput())
	d.mu.Unlock()

	if stopErr == nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeStopTimeout)
		stopErr = wait(ctx, done)
		cancel()
	}

	closeErr := d.port.Close()
	if err := errors.Join(stopErr, closeErr); err != nil {
		return motor.NormalizeDriverErrorFor(err, nil, Model)
	}
	return nil
}
