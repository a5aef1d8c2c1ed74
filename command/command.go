// Package command defines the symbols understood by the servo controller.
//
// The wire protocol is a fixed set of single ASCII bytes. The joystick can
// additionally produce two-letter compound symbols (for example "ul"), which
// are written to the link as a single two-byte payload. The discrete
// diagonal buttons instead send two primitives in sequence; see Expand.
package command

import (
	"fmt"
	"time"
)

// Symbol is a command payload. It may be a primitive, a compound diagonal or
// Neutral.
type Symbol string

// Primitive commands.
const (
	Up     Symbol = "u"
	Down   Symbol = "d"
	Left   Symbol = "l"
	Right  Symbol = "r"
	Center Symbol = "c"
)

// Compound diagonals. Vertical component first.
const (
	UpLeft    Symbol = "ul"
	UpRight   Symbol = "ur"
	DownLeft  Symbol = "dl"
	DownRight Symbol = "dr"
)

// Neutral is the joystick's "no direction" symbol. Sending it writes no
// bytes but still counts as a transmission.
const Neutral Symbol = ""

// DiagonalDelay is the gap between the two primitive sends of a diagonal
// button press.
const DiagonalDelay = 100 * time.Millisecond

// Primitive reports whether s is one of the single-byte wire commands.
func (s Symbol) Primitive() bool {
	switch s {
	case Up, Down, Left, Right, Center:
		return true
	}
	return false
}

// Diagonal reports whether s is a two-letter compound symbol.
func (s Symbol) Diagonal() bool {
	switch s {
	case UpLeft, UpRight, DownLeft, DownRight:
		return true
	}
	return false
}

// Valid reports whether s may appear in a recording or be transmitted.
func (s Symbol) Valid() bool {
	return s == Neutral || s.Primitive() || s.Diagonal()
}

// Payload returns the bytes written to the link for s.
func (s Symbol) Payload() []byte {
	return []byte(s)
}

func (s Symbol) String() string {
	if s == Neutral {
		return "neutral"
	}
	return string(s)
}

// Expand splits a diagonal into the two primitives that a diagonal button
// sends, vertical first.
func Expand(s Symbol) (Symbol, Symbol, error) {
	if !s.Diagonal() {
		return "", "", fmt.Errorf("%q is not a diagonal", string(s))
	}
	return Symbol(s[:1]), Symbol(s[1:]), nil
}

// Parse validates a payload string, as found in a durable recording or typed
// by an operator.
func Parse(s string) (Symbol, error) {
	sym := Symbol(s)
	if !sym.Valid() {
		return "", fmt.Errorf("unknown command %q", s)
	}
	return sym, nil
}
