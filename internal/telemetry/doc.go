// Package telemetry distributes node events to observers.
//
// The Hub streams events to Server-Sent Events clients and keeps the last N
// events so reconnecting clients can resume with Last-Event-ID. Other sinks
// (MQTT, Redis) implement Publisher and are combined with Multi.
package telemetry
