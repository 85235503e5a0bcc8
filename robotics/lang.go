// Package robotics implements the embedded control-language interpreter
// (spec.md §4.E): a small DSL ("SEL A0; MV 800 300; W 2000 INT") that
// selects a driver and drives it through ramped moves, colour fills and
// effects, with cooperative interrupt-and-reverse semantics and master
// power/idle management.
package robotics

import (
	"strconv"
	"strings"
)

// Opcode is one of the five control variants (spec.md §6 grammar).
type Opcode int

const (
	OpSelect Opcode = iota
	OpWait
	OpMove
	OpColour
	OpFx
)

func (o Opcode) String() string {
	switch o {
	case OpSelect:
		return "SEL"
	case OpWait:
		return "WAIT"
	case OpMove:
		return "MV"
	case OpColour:
		return "COL"
	case OpFx:
		return "FX"
	default:
		return "UNKNOWN"
	}
}

// Tangible reports whether the opcode acts on hardware (spec.md glossary:
// "tangible control"), as opposed to SEL/WAIT.
func (o Opcode) Tangible() bool {
	return o == OpMove || o == OpColour || o == OpFx
}

// opcodeAliases resolves every spelling in the grammar to its canonical
// Opcode. Case handling is the caller's job (ParseProgram uppercases
// each control before lexing).
var opcodeAliases = map[string]Opcode{
	"SEL":    OpSelect,
	"S":      OpSelect,
	"SELECT": OpSelect,
	"WAIT":   OpWait,
	"W":      OpWait,
	"MV":     OpMove,
	"M":      OpMove,
	"MOVE":   OpMove,
	"COL":    OpColour,
	"C":      OpColour,
	"COLOUR": OpColour,
	"COLOR":  OpColour,
	"FX":     OpFx,
}

const (
	modInterrupt = "INT"
	modCommit    = "!"
)

// Control is a single parsed instruction. Args holds the positional
// tokens left after modifiers are stripped; opcode-specific drivers
// (actuator, ledstrip) interpret Args themselves, since the grammar only
// fixes the opcode/modifier shape, not each opcode's payload.
type Control struct {
	Opcode        Opcode
	Args          []string
	Interruptible bool // INT modifier present
	Commit        bool // ! modifier present
	Raw           string
}

// SelectTarget splits a SEL control's device argument on the first ':',
// returning the device id and an optional sub-component ("SEL A0:1").
func (c Control) SelectTarget() (deviceID string, subComponent string, hasSub bool) {
	if len(c.Args) == 0 {
		return "", "", false
	}
	target := c.Args[0]
	if idx := strings.IndexByte(target, ':'); idx >= 0 {
		return target[:idx], target[idx+1:], true
	}
	return target, "", false
}

// IntArg parses Args[i] as a base-10 integer.
func (c Control) IntArg(i int) (int, error) {
	if i >= len(c.Args) {
		return 0, errMissingArg
	}
	return strconv.Atoi(c.Args[i])
}
