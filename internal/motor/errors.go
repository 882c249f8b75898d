package motor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized driver errors.
var (
	ErrInvalidOutput = errors.New("INVALID_OUTPUT")
	ErrBusy          = errors.New("BUSY")
	ErrUnavailable   = errors.New("UNAVAILABLE")
	ErrInternal      = errors.New("INTERNAL")
)

// TokenMap lists the message tokens that map to each normalized code.
type TokenMap struct {
	Invalid     []string
	Busy        []string
	Unavailable []string
}

// DriverErrorMappings holds the token tables per driver model. Unknown models
// fall back to "generic"; unmatched messages map to INTERNAL.
var DriverErrorMappings = map[string]TokenMap{
	"serial": {
		Invalid: []string{
			"BAD_FRAME",
			"INVALID_DUTY",
			"INVALID_FRAME",
		},
		Busy: []string{
			"RESOURCE TEMPORARILY UNAVAILABLE",
			"TIMEOUT",
			"WOULD BLOCK",
		},
		Unavailable: []string{
			"NO SUCH FILE",
			"PORT NOT FOUND",
			"PORT BUSY",
			"PORT CLOSED",
			"BROKEN PIPE",
			"INPUT/OUTPUT ERROR",
			"PERMISSION DENIED",
		},
	},
	"gpio": {
		Invalid: []string{
			"INVALID ARGUMENT",
			"OUT OF RANGE",
		},
		Busy: []string{
			"DEVICE OR RESOURCE BUSY",
		},
		Unavailable: []string{
			"NO SUCH FILE",
			"PERMISSION DENIED",
			"NOT EXPORTED",
			"CLOSED",
		},
	},
	"generic": {
		Invalid: []string{
			"INVALID",
			"OUT_OF_RANGE",
		},
		Busy: []string{
			"BUSY",
			"RETRY",
			"TIMEOUT",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"OFFLINE",
			"CLOSED",
			"DISCONNECTED",
		},
	},
}

// DriverError wraps a driver failure with its normalized code.
type DriverError struct {
	Code     error  // normalized code
	Original error  // driver error
	Details  any    // driver payload
	Model    string // driver model used for mapping
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%v (driver: %v)", e.Code, e.Original)
}

func (e *DriverError) Unwrap() error {
	return e.Code
}

// NormalizeDriverError maps err with the generic table.
func NormalizeDriverError(err error, payload any) error {
	return NormalizeDriverErrorFor(err, payload, "generic")
}

// NormalizeDriverErrorFor maps err with the table for model. Errors that
// already carry a normalized code are returned unchanged.
func NormalizeDriverErrorFor(err error, payload any, model string) error {
	if err == nil {
		return nil
	}

	var de *DriverError
	if errors.As(err, &de) {
		return err
	}

	code := codeFor(err, model)
	return &DriverError{
		Code:     code,
		Original: err,
		Details:  payload,
		Model:    model,
	}
}

func codeFor(err error, model string) error {
	for _, sentinel := range []error{ErrInvalidOutput, ErrBusy, ErrUnavailable, ErrInternal} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBusy
	}
	if errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}

	tokens, ok := DriverErrorMappings[model]
	if !ok {
		tokens = DriverErrorMappings["generic"]
	}

	msg := strings.ToUpper(err.Error())

	for _, token := range tokens.Invalid {
		if strings.Contains(msg, token) {
			return ErrInvalidOutput
		}
	}
	for _, token := range tokens.Busy {
		if strings.Contains(msg, token) {
			return ErrBusy
		}
	}
	for _, token := range tokens.Unavailable {
		if strings.Contains(msg, token) {
			return ErrUnavailable
		}
	}

	return ErrInternal
}

// Code returns the normalized code string for err, or "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var de *DriverError
	if errors.As(err, &de) {
		return de.Code.Error()
	}
	return codeFor(err, "generic").Error()
}
