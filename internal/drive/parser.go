package drive

import (
	"errors"
	"strconv"
	"strings"
)

// DefaultSpeed is the speed used when a command omits one or carries a
// malformed one.
const DefaultSpeed uint8 = 200

// MaxDuty is the top of the 8-bit PWM duty range.
const MaxDuty = 255

// cutset covers newline terminators and the NUL padding of datagram buffers.
const cutset = " \t\r\n\x00"

// Parser turns raw command lines into Commands.
type Parser struct {
	DefaultSpeed uint8
}

// NewParser creates a parser with the given fallback speed.
func NewParser(defaultSpeed uint8) Parser {
	return Parser{DefaultSpeed: defaultSpeed}
}

// Parse interprets a single command line.
//
// Unknown keywords return a *ParseError wrapping ErrUnknownCommand. A speed
// token that is not a decimal integer does not reject the command: the
// default speed is substituted and SpeedDefaulted is set.
func (p Parser) Parse(line string) (Command, error) {
	trimmed := strings.Trim(line, cutset)
	if trimmed == "" {
		return Command{}, &ParseError{Kind: ErrEmptyCommand}
	}

	keyword, speedToken, hasSpeed := strings.Cut(trimmed, " ")

	action, ok := ParseDirection(keyword)
	if !ok {
		return Command{}, &ParseError{Kind: ErrUnknownCommand, Line: trimmed}
	}

	cmd := Command{Action: action}
	if !hasSpeed {
		return cmd, nil
	}

	speed, ok := parseSpeed(strings.TrimSpace(speedToken))
	if !ok {
		cmd.Speed = p.DefaultSpeed
		cmd.HasSpeed = true
		cmd.SpeedDefaulted = true
		return cmd, nil
	}

	cmd.Speed = speed
	cmd.HasSpeed = true
	return cmd, nil
}

// parseSpeed parses a base-10 integer and clamps it into [0, MaxDuty].
// Magnitudes beyond int64 still clamp rather than fail.
func parseSpeed(token string) (uint8, bool) {
	if token == "" {
		return 0, false
	}

	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || numErr.Err != strconv.ErrRange {
			return 0, false
		}
		if strings.HasPrefix(token, "-") {
			return 0, true
		}
		return MaxDuty, true
	}

	return Clamp(n), true
}

// Clamp limits n to the 8-bit duty range.
func Clamp(n int64) uint8 {
	switch {
	case n < 0:
		return 0
	case n > MaxDuty:
		return MaxDuty
	default:
		return uint8(n)
	}
}
