// Package motor defines the driver contract that applies motor outputs to
// actuators.
//
// Drivers are side-effect-only sinks: the control loop hands them a
// drive.MotorOutput and never reads state back. Errors returned by drivers are
// normalized to a small closed set of codes so that logs, audit records and
// telemetry carry the same vocabulary regardless of the hardware behind them.
package motor
