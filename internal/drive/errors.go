package drive

import (
	"errors"
	"fmt"
)

// Parse error codes.
var (
	ErrUnknownCommand = errors.New("UNKNOWN_COMMAND")
	ErrEmptyCommand   = errors.New("EMPTY_COMMAND")

	// ErrMalformedSpeed is never returned by Parse. A malformed speed token
	// falls back to the default speed; the code is kept for logs and audit.
	ErrMalformedSpeed = errors.New("MALFORMED_SPEED")
)

// ParseError describes a rejected command line.
type ParseError struct {
	Kind error  // ErrUnknownCommand or ErrEmptyCommand
	Line string // trimmed input
}

func (e *ParseError) Error() string {
	if e.Line == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %q", e.Kind, e.Line)
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

// Code returns the taxonomy code for an error produced by this package.
func Code(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrUnknownCommand):
		return ErrUnknownCommand.Error()
	case errors.Is(err, ErrEmptyCommand):
		return ErrEmptyCommand.Error()
	case errors.Is(err, ErrMalformedSpeed):
		return ErrMalformedSpeed.Error()
	default:
		return "ERROR"
	}
}
