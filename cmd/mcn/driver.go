package main

import (
	"fmt"

	"github.com/motor-control/mcn/internal/config"
	"github.com/motor-control/mcn/internal/motor"
	"github.com/motor-control/mcn/internal/motor/fake"
	"github.com/motor-control/mcn/internal/motor/gpio"
	"github.com/motor-control/mcn/internal/motor/serial"
)

// openDriver builds the motor driver selected by cfg.
func openDriver(cfg config.MotorConfig) (motor.Driver, error) {
	switch cfg.Driver {
	case config.DriverFake, "":
		return fake.New("fake"), nil

	case config.DriverSerial:
		d, err := serial.Open(serial.Options{
			Port:     cfg.Serial.Port,
			BaudRate: cfg.Serial.BaudRate,
		})
		if err != nil {
			return nil, err
		}
		return d, nil

	case config.DriverGPIO:
		d, err := gpio.Open(gpio.Options{
			LeftDirPin:      cfg.GPIO.LeftDirPin,
			RightDirPin:     cfg.GPIO.RightDirPin,
			PWMChip:         cfg.GPIO.PWMChip,
			LeftPWMChannel:  cfg.GPIO.LeftPWMChannel,
			RightPWMChannel: cfg.GPIO.RightPWMChannel,
			FrequencyHz:     cfg.GPIO.FrequencyHz,
			SysfsRoot:       cfg.GPIO.SysfsRoot,
		})
		if err != nil {
			return nil, err
		}
		return d, nil

	default:
		return nil, fmt.Errorf("unknown motor driver %q", cfg.Driver)
	}
}
