// errors.go — user-facing diagnostics and caret-snippet rendering.
//
// Every lex/parse/sema/runtime problem surfaces as a *Diagnostic carrying a
// kind from the fixed taxonomy, a message and a source position (1-based
// line, 0-based column). The canonical rendering is one line:
//
//	<path>:<line>:<col>: <kind>: <message>
//
// RenderWithSource additionally produces a numbered source excerpt with a
// caret under the offending column; the line before is shown as context, and
// the line after when it is not blank:
//
//	 2 |     return a
//	 3 | x:f32=f(1)
//	   |       ^
package lython

import (
	"fmt"
	"strings"
)

// DiagKind is the diagnostic taxonomy surfaced to users.
type DiagKind int

const (
	DiagSyntaxError DiagKind = iota
	DiagNameError
	DiagTypeError
	DiagAttributeError
	DiagImportError
	DiagModuleNotFoundError
	DiagUnsupportedOperand
	DiagRuntimeError
	DiagAssertionError
	DiagIncomplete // REPL-only: input ended mid-construct
)

var diagKindNames = [...]string{
	DiagSyntaxError:         "SyntaxError",
	DiagNameError:           "NameError",
	DiagTypeError:           "TypeError",
	DiagAttributeError:      "AttributeError",
	DiagImportError:         "ImportError",
	DiagModuleNotFoundError: "ModuleNotFoundError",
	DiagUnsupportedOperand:  "UnsupportedOperand",
	DiagRuntimeError:        "RuntimeError",
	DiagAssertionError:      "AssertionError",
	DiagIncomplete:          "Incomplete",
}

func (k DiagKind) String() string {
	if int(k) < len(diagKindNames) {
		return diagKindNames[k]
	}
	return "Error"
}

// Diagnostic is one reported problem.
type Diagnostic struct {
	Kind DiagKind
	Msg  string
	Path string
	Line int
	Col  int
}

func (d *Diagnostic) Error() string {
	path := d.Path
	if path == "" {
		path = "<input>"
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", path, d.Line, d.Col, d.Kind, d.Msg)
}

// IsIncomplete reports whether err is the REPL continuation signal.
func IsIncomplete(err error) bool {
	d, ok := err.(*Diagnostic)
	return ok && d.Kind == DiagIncomplete
}

// Diagnostics collects problems across a pass; a failing check records and
// continues so one file can produce several reports.
type Diagnostics struct {
	Path string
	List []*Diagnostic
}

func (ds *Diagnostics) Report(kind DiagKind, sp Span, format string, args ...any) *Diagnostic {
	d := &Diagnostic{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		Path: ds.Path,
		Line: sp.Line,
		Col:  sp.Col,
	}
	ds.List = append(ds.List, d)
	return d
}

func (ds *Diagnostics) HasErrors() bool { return len(ds.List) > 0 }

// String renders every diagnostic, one per line.
func (ds *Diagnostics) String() string {
	var b strings.Builder
	for _, d := range ds.List {
		b.WriteString(d.Error())
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderWithSource renders a diagnostic followed by a caret snippet cut from
// src. Out-of-range coordinates are clamped so the caret is always printable.
func RenderWithSource(d *Diagnostic, src string) string {
	lines := strings.Split(src, "\n")
	if len(lines) == 0 {
		return d.Error()
	}
	line := d.Line
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	col := d.Col
	if col < 0 {
		col = 0
	}
	text := lines[line-1]
	if col > len(text) {
		col = len(text)
	}

	var b strings.Builder
	b.WriteString(d.Error())
	b.WriteByte('\n')

	width := len(fmt.Sprintf("%d", min(line+1, len(lines))))
	writeLine := func(n int) {
		b.WriteString(fmt.Sprintf(" %*d | %s\n", width, n, lines[n-1]))
	}
	if line > 1 {
		writeLine(line - 1)
	}
	writeLine(line)
	b.WriteString(fmt.Sprintf(" %s | %s^\n", strings.Repeat(" ", width), strings.Repeat(" ", col)))
	if line < len(lines) && strings.TrimSpace(lines[line]) != "" {
		writeLine(line + 1)
	}
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
