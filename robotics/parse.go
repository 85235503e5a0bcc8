package robotics

import (
	"strings"

	"github.com/google/shlex"
	"github.com/jangala-dev/inu/errcode"
)

var errMissingArg = &errcode.E{C: errcode.Malformed, Op: "robotics.Control.IntArg", Msg: "missing argument"}

// minArgs is the fewest positional arguments each opcode accepts before
// a control is rejected as Malformed. Anything opcode-specific beyond
// this (e.g. a full four-channel colour, an FX effect's own arity) is
// validated by the driver that receives the control.
var minArgs = map[Opcode]int{
	OpSelect: 1, // device id, optionally "id:sub"
	OpWait:   1, // duration_ms
	OpMove:   2, // distance_mm, speed_mm_per_s
	OpColour: 1, // at least a value to resolve a colour from
	OpFx:     2, // effect name, duration_ms
}

// ParseProgram parses a semicolon-delimited program (spec.md §6 grammar)
// into an ordered list of Controls. Each control is uppercased and
// tokenized (case-insensitive DSL); the opcode and INT/! modifiers are
// recognized with hand-written table lookups, while the remaining
// argument tokens are split with shlex, which performs no regex
// matching and handles quoting for free (SPEC_FULL.md §4.E).
func ParseProgram(program string) ([]Control, error) {
	var controls []Control
	for _, raw := range strings.Split(program, ";") {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		ctl, err := parseControl(text)
		if err != nil {
			return nil, err
		}
		controls = append(controls, ctl)
	}
	return controls, nil
}

func parseControl(text string) (Control, error) {
	upper := strings.ToUpper(text)
	tokens, err := shlex.Split(upper)
	if err != nil {
		return Control{}, &errcode.E{C: errcode.Malformed, Op: "robotics.parseControl", Msg: "unterminated quote in control: " + text, Err: err}
	}
	if len(tokens) == 0 {
		return Control{}, &errcode.E{C: errcode.Malformed, Op: "robotics.parseControl", Msg: "empty control"}
	}

	opcode, ok := opcodeAliases[tokens[0]]
	if !ok {
		return Control{}, &errcode.E{C: errcode.BadRequest, Op: "robotics.parseControl", Msg: "unknown opcode: " + tokens[0]}
	}

	ctl := Control{Opcode: opcode, Raw: text}
	for _, tok := range tokens[1:] {
		switch tok {
		case modInterrupt:
			ctl.Interruptible = true
		case modCommit:
			ctl.Commit = true
		default:
			ctl.Args = append(ctl.Args, tok)
		}
	}

	if len(ctl.Args) < minArgs[opcode] {
		return Control{}, &errcode.E{C: errcode.Malformed, Op: "robotics.parseControl", Msg: "missing argument(s) for " + opcode.String() + ": " + text}
	}
	return ctl, nil
}
