// Package fake provides a recording motor driver for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/motor"
)

// Driver records every applied output in memory.
type Driver struct {
	*motor.DriverBase

	mu      sync.Mutex
	outputs []drive.MotorOutput
	closed  bool

	// Error simulation
	simulateErrors bool
	errorType      string
}

// New creates a fake driver.
func New(id string) *Driver {
	return &Driver{
		DriverBase: motor.NewDriverBase(id, "fake"),
	}
}

// Apply records out.
func (d *Driver) Apply(ctx context.Context, out drive.MotorOutput) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return motor.ErrUnavailable
	}
	if d.simulateErrors {
		return d.simulatedError()
	}

	d.outputs = append(d.outputs, out)
	return nil
}

// Close records a final stop and marks the driver closed. Closing twice is a
// no-op.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.outputs = append(d.outputs, drive.StopOutput())
	d.closed = true
	d.SetStatus(motor.StatusClosed)
	return nil
}

// Helper methods for testing

// SetErrorSimulation makes Apply fail with the given normalized code.
func (d *Driver) SetErrorSimulation(errorType string) {
	d.mu.Lock()
	d.simulateErrors = true
	d.errorType = errorType
	d.mu.Unlock()
	d.SetStatus(motor.StatusFault)
}

// DisableErrorSimulation restores normal operation.
func (d *Driver) DisableErrorSimulation() {
	d.mu.Lock()
	d.simulateErrors = false
	d.errorType = ""
	d.mu.Unlock()
	d.SetStatus(motor.StatusOnline)
}

func (d *Driver) simulatedError() error {
	switch d.errorType {
	case "INVALID_OUTPUT":
		return fmt.Errorf("INVALID_OUTPUT: simulated invalid output")
	case "BUSY":
		return fmt.Errorf("BUSY: simulated busy driver")
	case "UNAVAILABLE":
		return fmt.Errorf("UNAVAILABLE: simulated offline driver")
	default:
		return fmt.Errorf("simulated internal failure")
	}
}

// Outputs returns a copy of every recorded output.
func (d *Driver) Outputs() []drive.MotorOutput {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]drive.MotorOutput, len(d.outputs))
	copy(out, d.outputs)
	return out
}

// Last returns the most recent output.
func (d *Driver) Last() (drive.MotorOutput, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.outputs) == 0 {
		return drive.MotorOutput{}, false
	}
	return d.outputs[len(d.outputs)-1], true
}

// Count returns the number of recorded outputs.
func (d *Driver) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outputs)
}

// Reset clears recorded outputs.
func (d *Driver) Reset() {
	d.mu.Lock()
	d.outputs = nil
	d.mu.Unlock()
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
