// Package gpio drives an H-bridge directly from the host's GPIO and PWM
// peripherals.
//
// Each side uses one direction pin (HIGH forward, LOW reverse) and one PWM
// channel whose duty cycle is the 8-bit duty scaled onto the PWM period.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brian-armstrong/gpio"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/motor"
)

// Model is the error-mapping model for this driver.
const Model = "gpio"

// ErrClosed is returned by Apply after Close.
var ErrClosed = errors.New("driver closed")

// DirectionPin is a digital output.
type DirectionPin interface {
	High() error
	Low() error
	Close()
}

// PWMChannel accepts an 8-bit duty.
type PWMChannel interface {
	SetDuty(duty uint8) error
	Close() error
}

// Options selects pins and PWM channels.
type Options struct {
	LeftDirPin      uint
	RightDirPin     uint
	PWMChip         int
	LeftPWMChannel  int
	RightPWMChannel int
	FrequencyHz     int
	SysfsRoot       string
}

// Side bundles the peripherals of one motor.
type Side struct {
	Dir DirectionPin
	PWM PWMChannel
}

// Driver applies outputs to two sides.
type Driver struct {
	*motor.DriverBase

	mu     sync.Mutex
	left   Side
	right  Side
	closed bool
}

// Open exports the configured pins and PWM channels. Direction pins start LOW
// and duty starts at zero.
func Open(opts Options) (*Driver, error) {
	if opts.FrequencyHz <= 0 {
		return nil, motor.NormalizeDriverErrorFor(fmt.Errorf("pwm frequency %d out of range", opts.FrequencyHz), opts, Model)
	}
	period := time.Second / time.Duration(opts.FrequencyHz)

	leftPWM, err := OpenSysfsPWM(opts.SysfsRoot, opts.PWMChip, opts.LeftPWMChannel, period)
	if err != nil {
		return nil, motor.NormalizeDriverErrorFor(err, opts, Model)
	}
	rightPWM, err := OpenSysfsPWM(opts.SysfsRoot, opts.PWMChip, opts.RightPWMChannel, period)
	if err != nil {
		leftPWM.Close()
		return nil, motor.NormalizeDriverErrorFor(err, opts, Model)
	}

	left := Side{Dir: gpio.NewOutput(opts.LeftDirPin, false), PWM: leftPWM}
	right := Side{Dir: gpio.NewOutput(opts.RightDirPin, false), PWM: rightPWM}

	id := fmt.Sprintf("gpio:%d/%d", opts.LeftDirPin, opts.RightDirPin)
	return New(id, left, right), nil
}

// New builds a driver from already opened peripherals.
func New(id string, left, right Side) *Driver {
	return &Driver{
		DriverBase: motor.NewDriverBase(id, Model),
		left:       left,
		right:      right,
	}
}

// Apply sets direction pins, then duty.
func (d *Driver) Apply(ctx context.Context, out drive.MotorOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return motor.NormalizeDriverErrorFor(ErrClosed, nil, Model)
	}

	err := errors.Join(
		applySide(d.left, out.Left),
		applySide(d.right, out.Right),
	)
	if err != nil {
		d.SetStatus(motor.StatusFault)
		return motor.NormalizeDriverErrorFor(err, out, Model)
	}

	d.SetStatus(motor.StatusOnline)
	return nil
}

func applySide(s Side, out drive.SideOutput) error {
	var err error
	if out.Polarity == drive.PolarityForward {
		err = s.Dir.High()
	} else {
		err = s.Dir.Low()
	}
	if err != nil {
		return fmt.Errorf("direction pin: %w", err)
	}
	if err := s.PWM.SetDuty(out.Duty); err != nil {
		return fmt.Errorf("pwm: %w", err)
	}
	return nil
}

// Close stops both sides and releases the peripherals.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.SetStatus(motor.StatusClosed)

	stop := drive.StopOutput()
	err := errors.Join(
		applySide(d.left, stop.Left),
		applySide(d.right, stop.Right),
		d.left.PWM.Close(),
		d.right.PWM.Close(),
	)
	d.left.Dir.Close()
	d.right.Dir.Close()

	if err != nil {
		return motor.NormalizeDriverErrorFor(err, nil, Model)
	}
	return nil
}
