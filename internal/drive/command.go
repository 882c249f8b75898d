package drive

import "fmt"

// Direction is the closed set of motion keywords understood by the node.
type Direction uint8

const (
	Stop Direction = iota
	Forward
	Backward
	Left
	Right
)

// keywords maps each Direction to its wire keyword.
var keywords = map[Direction]string{
	Stop:     "STOP",
	Forward:  "FORWARD",
	Backward: "BACKWARD",
	Left:     "LEFT",
	Right:    "RIGHT",
}

// directions is the reverse lookup used by the parser.
var directions = map[string]Direction{
	"STOP":     Stop,
	"FORWARD":  Forward,
	"BACKWARD": Backward,
	"LEFT":     Left,
	"RIGHT":    Right,
}

// String returns the wire keyword for the direction.
func (d Direction) String() string {
	if kw, ok := keywords[d]; ok {
		return kw
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// MarshalText renders the direction as its wire keyword.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection resolves a case-sensitive wire keyword.
func ParseDirection(keyword string) (Direction, bool) {
	d, ok := directions[keyword]
	return d, ok
}

// Directions returns every direction in wire order.
func Directions() []Direction {
	return []Direction{Forward, Backward, Left, Right, Stop}
}

// Command is a parsed motion request.
type Command struct {
	Action Direction
	Speed  uint8

	// HasSpeed is false when the line carried no speed token; the mapper
	// substitutes its default speed in that case.
	HasSpeed bool

	// SpeedDefaulted is true when a speed token was present but malformed
	// and the parser substituted its default speed.
	SpeedDefaulted bool
}

// SpeedOr returns the command speed, or def when no speed was given.
func (c Command) SpeedOr(def uint8) uint8 {
	if c.HasSpeed {
		return c.Speed
	}
	return def
}

// String renders the command in wire format.
func (c Command) String() string {
	if !c.HasSpeed {
		return c.Action.String()
	}
	return fmt.Sprintf("%s %d", c.Action, c.Speed)
}
