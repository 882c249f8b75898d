// Package audit writes an append-only JSONL trail of command outcomes.
//
// One line is written per accepted command, rejected line, watchdog stop and
// driver fault. Files are rotated by size.
package audit
