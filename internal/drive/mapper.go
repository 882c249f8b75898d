package drive

import (
	"fmt"
	"strconv"
	"strings"
)

// Polarity is the rotation sense of one side. It is driven onto the side's
// direction pin: HIGH for Forward, LOW for Reverse.
type Polarity uint8

const (
	PolarityReverse Polarity = iota
	PolarityForward
)

func (p Polarity) String() string {
	if p == PolarityForward {
		return "forward"
	}
	return "reverse"
}

// MarshalText renders the polarity as its lower-case name.
func (p Polarity) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Letter returns the single-character form used in controller frames.
func (p Polarity) Letter() byte {
	if p == PolarityForward {
		return 'F'
	}
	return 'R'
}

// SideOutput is the direction and duty applied to one motor.
type SideOutput struct {
	Polarity Polarity `json:"polarity"`
	Duty     uint8    `json:"duty"`
}

// MotorOutput is the pair of side outputs applied in one step.
type MotorOutput struct {
	Left  SideOutput `json:"left"`
	Right SideOutput `json:"right"`
}

// IsStop reports whether both sides have zero duty.
func (o MotorOutput) IsStop() bool {
	return o.Left.Duty == 0 && o.Right.Duty == 0
}

func (o MotorOutput) String() string {
	return fmt.Sprintf("left=%s/%d right=%s/%d",
		o.Left.Polarity, o.Left.Duty, o.Right.Polarity, o.Right.Duty)
}

// StopOutput returns the canonical halted output: both direction pins LOW
// and zero duty.
func StopOutput() MotorOutput {
	return MotorOutput{
		Left:  SideOutput{Polarity: PolarityReverse, Duty: 0},
		Right: SideOutput{Polarity: PolarityReverse, Duty: 0},
	}
}

// TurnPolicy selects how LEFT and RIGHT derive their duty.
type TurnPolicy string

const (
	// TurnProportional turns at the requested (or default) speed.
	TurnProportional TurnPolicy = "proportional"
	// TurnFixed turns at Mapper.FixedTurnSpeed regardless of the request.
	TurnFixed TurnPolicy = "fixed"
)

// DefaultFixedTurnSpeed is the reduced turn duty used by TurnFixed.
const DefaultFixedTurnSpeed uint8 = 100

// ParseTurnPolicy resolves a configuration value, case-insensitively.
func ParseTurnPolicy(s string) (TurnPolicy, error) {
	switch TurnPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case TurnProportional:
		return TurnProportional, nil
	case TurnFixed:
		return TurnFixed, nil
	default:
		return "", fmt.Errorf("unknown turn policy %q (want %q or %q)", s, TurnProportional, TurnFixed)
	}
}

// Mapper converts Commands into MotorOutputs. The zero value maps with a
// speed of 0 for commands without a speed; use NewMapper for defaults.
type Mapper struct {
	DefaultSpeed   uint8
	TurnPolicy     TurnPolicy
	FixedTurnSpeed uint8
}

// NewMapper returns a proportional-turn mapper with the given default speed.
func NewMapper(defaultSpeed uint8) Mapper {
	return Mapper{
		DefaultSpeed:   defaultSpeed,
		TurnPolicy:     TurnProportional,
		FixedTurnSpeed: DefaultFixedTurnSpeed,
	}
}

// Map returns the output for cmd. It has no side effects.
func (m Mapper) Map(cmd Command) MotorOutput {
	s := cmd.SpeedOr(m.DefaultSpeed)

	switch cmd.Action {
	case Forward:
		return MotorOutput{
			Left:  SideOutput{Polarity: PolarityForward, Duty: s},
			Right: SideOutput{Polarity: PolarityForward, Duty: s},
		}
	case Backward:
		return MotorOutput{
			Left:  SideOutput{Polarity: PolarityReverse, Duty: s},
			Right: SideOutput{Polarity: PolarityReverse, Duty: s},
		}
	case Left:
		t := m.turnSpeed(s)
		return MotorOutput{
			Left:  SideOutput{Polarity: PolarityReverse, Duty: t},
			Right: SideOutput{Polarity: PolarityForward, Duty: t},
		}
	case Right:
		t := m.turnSpeed(s)
		return MotorOutput{
			Left:  SideOutput{Polarity: PolarityForward, Duty: t},
			Right: SideOutput{Polarity: PolarityReverse, Duty: t},
		}
	default:
		return StopOutput()
	}
}

func (m Mapper) turnSpeed(s uint8) uint8 {
	if m.TurnPolicy == TurnFixed {
		return m.FixedTurnSpeed
	}
	return s
}

const ackSpeedMarker = " with speed "

// Ack formats the acknowledgment line sent back to a command's sender.
//
// The speed reported is the larger duty actually applied, not the speed the
// sender asked for. They differ when a turn runs at the fixed turn speed
// ("LEFT 200" under the fixed policy is acked "with speed 100") and for STOP,
// which always reports 0.
func Ack(cmd Command, out MotorOutput) string {
	duty := out.Left.Duty
	if out.Right.Duty > duty {
		duty = out.Right.Duty
	}
	return fmt.Sprintf("Command executed: %s%s%d", cmd.Action, ackSpeedMarker, duty)
}

// AckSpeed extracts the applied duty from an acknowledgment line.
func AckSpeed(ack string) (uint8, bool) {
	i := strings.LastIndex(ack, ackSpeedMarker)
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(ack[i+len(ackSpeedMarker):]), 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}
