// Package signal decodes signal commands and drives the devices that display them.
package signal

import "strings"

// Command is the single byte a writer client sends per delivery.
// Bits 6 and 7 are reserved and carry no meaning.
type Command byte

const (
	// Blink makes the lit color blink
	Blink Command = 1 << iota
	// Red selects the red aspect
	Red
	// Yellow selects the yellow aspect
	Yellow
	// Green selects the green aspect
	Green
	// LampOn turns the lamp on
	LampOn
	// LampOff turns the lamp off
	LampOff
)

// knownBits masks out the reserved bits
const knownBits = Blink | Red | Yellow | Green | LampOn | LampOff

// Has reports whether every bit of flag is set in c
func (c Command) Has(flag Command) bool {
	return c&flag == flag
}

// Known returns c with the reserved bits cleared
func (c Command) Known() Command {
	return c & knownBits
}

// State is the decoded form of a Command
type State struct {
	Blink   bool `json:"blink"`
	Red     bool `json:"red"`
	Yellow  bool `json:"yellow"`
	Green   bool `json:"green"`
	LampOn  bool `json:"lamp_on"`
	LampOff bool `json:"lamp_off"`
}

// Decode expands a command byte into its flags. Reserved bits are ignored.
func Decode(c Command) State {
	return State{
		Blink:   c.Has(Blink),
		Red:     c.Has(Red),
		Yellow:  c.Has(Yellow),
		Green:   c.Has(Green),
		LampOn:  c.Has(LampOn),
		LampOff: c.Has(LampOff),
	}
}

// Encode packs the state back into a command byte
func (s State) Encode() Command {
	var c Command
	if s.Blink {
		c |= Blink
	}
	if s.Red {
		c |= Red
	}
	if s.Yellow {
		c |= Yellow
	}
	if s.Green {
		c |= Green
	}
	if s.LampOn {
		c |= LampOn
	}
	if s.LampOff {
		c |= LampOff
	}
	return c
}

// String lists the set flags, e.g. "blink red lamp-on", or "none"
func (s State) String() string {
	var parts []string
	if s.Blink {
		parts = append(parts, "blink")
	}
	if s.Red {
		parts = append(parts, "red")
	}
	if s.Yellow {
		parts = append(parts, "yellow")
	}
	if s.Green {
		parts = append(parts, "green")
	}
	if s.LampOn {
		parts = append(parts, "lamp-on")
	}
	if s.LampOff {
		parts = append(parts, "lamp-off")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

// String renders the decoded flags of c
func (c Command) String() string {
	return Decode(c).String()
}
