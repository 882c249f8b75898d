// Package command runs the control loop: it drains the transport inbox,
// turns lines into motor outputs and forces STOP when the watchdog expires.
//
// The loop is a single goroutine and the only caller of the motor driver.
// Collaborators are consumed through the interfaces in ports.go so the loop
// can be stepped deterministically in tests with a manual clock.
package command
