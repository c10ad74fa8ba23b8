// Package gcode implements the parsed command model (SPEC_FULL.md §3,
// §4.2): a command carries its original text, a parameter map and a kind
// classification. The motion segment of a G0/G1 is derived from it by the
// state tracker (internal/state), not stored on the command.
//
// Parsing follows the teacher's GCodeCommand/GCodeDispatch tokenizing
// style (project/gcode.go): whitespace- and comment-aware, tolerant of
// mixed case, generalized from a live dispatch table into a pure parse
// function since this engine transforms a file rather than running a
// command loop against connected firmware.
package gcode

import (
	"strconv"
	"strings"
)

// Kind classifies a parsed command for the state tracker and fitter.
type Kind int

const (
	KindOther Kind = iota
	KindG0
	KindG1
	KindG2
	KindG3
	KindG90
	KindG91
	KindG92
	KindM82
	KindM83
	KindG20
	KindG21
	KindTool
	KindBlank
)

// IsMotion reports whether the command is a linear move the fitter may
// consume as a candidate segment.
func (k Kind) IsMotion() bool { return k == KindG0 || k == KindG1 }

var wordKinds = map[string]Kind{
	"G0":  KindG0,
	"G00": KindG0,
	"G1":  KindG1,
	"G01": KindG1,
	"G2":  KindG2,
	"G02": KindG2,
	"G3":  KindG3,
	"G03": KindG3,
	"G90": KindG90,
	"G91": KindG91,
	"G92": KindG92,
	"M82": KindM82,
	"M83": KindM83,
	"G20": KindG20,
	"G21": KindG21,
}

// Param is a single letter-prefixed token: the original literal text plus
// its parsed numeric value, so passthrough formatting can reuse the exact
// source spelling (leading zeros, "+" signs, trailing digits) untouched.
type Param struct {
	Raw   string
	Value float64
}

// Command is one source line: its raw text (sans terminator), its line
// number, its classification, its parameter map and any trailing comment.
type Command struct {
	Raw        string
	Line       int
	Kind       Kind
	Word       string // e.g. "G1", "M104", "T2"
	Params     map[byte]Param
	Comment    string
	HasComment bool
	Terminator string
	ToolIndex  int // valid when Kind == KindTool
	Warning    error
}

// Parse splits a single source line into a Command. term is the line
// terminator the driver detected for this line ("\n", "\r\n" or "\r").
func Parse(raw string, lineNo int, term string) Command {
	cmd := Command{Raw: raw, Line: lineNo, Terminator: term, Params: map[byte]Param{}}

	body := raw
	if idx := strings.IndexByte(body, ';'); idx >= 0 {
		cmd.Comment = strings.TrimSpace(body[idx+1:])
		cmd.HasComment = true
		body = body[:idx]
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		cmd.Kind = KindBlank
		return cmd
	}

	word := strings.ToUpper(fields[0])
	cmd.Word = word

	if len(word) >= 2 && (word[0] == 'T') && isAllDigits(word[1:]) {
		cmd.Kind = KindTool
		n, _ := strconv.Atoi(word[1:])
		cmd.ToolIndex = n
		return cmd
	}

	if k, ok := wordKinds[word]; ok {
		cmd.Kind = k
	} else {
		cmd.Kind = KindOther
	}

	for _, tok := range fields[1:] {
		if len(tok) < 2 {
			continue // too short to be a letter+number word; leave unparsed
		}
		letter := tok[0]
		if letter >= 'a' && letter <= 'z' {
			letter -= 'a' - 'A'
		}
		if letter < 'A' || letter > 'Z' {
			continue
		}
		numRaw := tok[1:]
		val, err := strconv.ParseFloat(numRaw, 64)
		if err != nil {
			// ParseWarning: unrecognized/malformed numeric token. The
			// command is still passed through verbatim (see engine
			// driver); we only record the first such warning.
			if cmd.Warning == nil {
				cmd.Warning = &ParseWarning{Token: tok, Line: lineNo}
			}
			continue
		}
		cmd.Params[letter] = Param{Raw: numRaw, Value: val}
	}

	return cmd
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseWarning records an unrecognized token; non-fatal per §7.
type ParseWarning struct {
	Token string
	Line  int
}

func (w *ParseWarning) Error() string {
	return "unrecognized token " + w.Token + " at line " + strconv.Itoa(w.Line)
}
