package motor

import (
	"context"
	"sync"

	"github.com/motor-control/mcn/internal/drive"
)

// Driver applies motor outputs to physical or simulated actuators.
type Driver interface {
	// Apply drives both sides to out. It must be safe to call repeatedly with
	// the same output.
	Apply(ctx context.Context, out drive.MotorOutput) error

	// Close halts the motors where possible and releases the hardware.
	Close() error
}

// Status values reported by DriverBase.
const (
	StatusOnline  = "online"
	StatusFault   = "fault"
	StatusClosed  = "closed"
	StatusOffline = "offline"
)

// DriverBase carries identification shared by driver implementations.
type DriverBase struct {
	// ID names the driver instance, e.g. "serial:/dev/ttyUSB0".
	ID string

	// Model identifies the driver kind.
	Model string

	mu     sync.RWMutex
	status string
}

// NewDriverBase returns a base in the online state.
func NewDriverBase(id, model string) *DriverBase {
	return &DriverBase{ID: id, Model: model, status: StatusOnline}
}

// GetID returns the driver identifier.
func (d *DriverBase) GetID() string {
	return d.ID
}

// GetModel returns the driver model.
func (d *DriverBase) GetModel() string {
	return d.Model
}

// GetStatus returns the driver status.
func (d *DriverBase) GetStatus() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// SetStatus updates the driver status.
func (d *DriverBase) SetStatus(status string) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
}

// Describer is implemented by drivers that embed DriverBase.
type Describer interface {
	GetID() string
	GetModel() string
	GetStatus() string
}

// Describe returns id, model and status for drivers that expose them.
func Describe(d Driver) (id, model, status string) {
	if ds, ok := d.(Describer); ok {
		return ds.GetID(), ds.GetModel(), ds.GetStatus()
	}
	return "", "", ""
}
