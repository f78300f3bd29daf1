// interp.go — the public pipeline surface.
//
// Source text flows lex → parse → sema → evaluate. Each stage collects
// structured diagnostics; lex/parse/sema problems stop the pipeline before
// evaluation unless the caller asked for analysis only. The Interpreter type
// carries persistent state for REPL use: one seeded Bindings table shared by
// successive inputs.
package lython

import (
	"fmt"
	"io"
	"strings"
)

// Version is reported by the CLI.
const Version = "0.3.0"

// Interpreter is the stateful pipeline front door.
type Interpreter struct {
	Bindings *Bindings
}

// NewInterpreter returns an interpreter with builtins seeded.
func NewInterpreter() *Interpreter {
	b := NewBindings()
	SeedBindings(b)
	return &Interpreter{Bindings: b}
}

// Compile parses and analyzes source, returning the annotated module and all
// collected diagnostics.
func (ip *Interpreter) Compile(path, src string) (*Module, *Diagnostics) {
	mod, diags := Parse(path, src)
	semaDiags := Analyze(mod, ip.Bindings)
	diags.List = append(diags.List, semaDiags.List...)
	return mod, diags
}

// Eval runs one source unit against the persistent bindings and returns the
// reduction of its last statement. Diagnostics cover the whole pipeline.
func (ip *Interpreter) Eval(path, src string) (PartialResult, *Diagnostics) {
	mod, diags := ip.Compile(path, src)
	if diags.HasErrors() {
		return nil, diags
	}
	ev := NewTreeEvaluator(mod, ip.Bindings)
	result := ev.RunModule()
	diags.List = append(diags.List, ev.Diags().List...)
	return result, diags
}

// RunOptions mirror the CLI flags.
type RunOptions struct {
	DumpTokens bool
	DumpAST    bool
	SemaOnly   bool
	Trace      bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RunSource executes a whole program and returns the process exit code:
// 0 on success, 1 on any diagnostic.
func RunSource(path, src string, opt RunOptions) int {
	if opt.DumpTokens {
		for _, t := range Tokenize(src) {
			fmt.Fprintln(opt.Stdout, t)
		}
		return 0
	}

	ip := NewInterpreter()
	mod, diags := ip.Compile(path, src)

	if opt.DumpAST {
		fmt.Fprint(opt.Stdout, PrintModule(mod))
	}
	if diags.HasErrors() {
		for _, d := range diags.List {
			fmt.Fprintln(opt.Stderr, d.Error())
		}
		return 1
	}
	if opt.SemaOnly || opt.DumpAST {
		return 0
	}

	prevOut := Stdout
	if opt.Stdout != nil {
		Stdout = opt.Stdout
	}
	defer func() { Stdout = prevOut }()

	ev := NewTreeEvaluator(mod, ip.Bindings)
	if opt.Trace {
		ev.Trace = opt.Stderr
	}
	ev.RunModule()
	if ev.Diags().HasErrors() {
		for _, d := range ev.Diags().List {
			fmt.Fprintln(opt.Stderr, d.Error())
		}
		return 1
	}
	return 0
}

// LooksIncomplete reports whether the diagnostics indicate input that ended
// mid-construct (REPL continuation heuristic).
func LooksIncomplete(diags *Diagnostics) bool {
	for _, d := range diags.List {
		if d.Kind == DiagIncomplete {
			return true
		}
		if d.Kind == DiagSyntaxError {
			if strings.Contains(d.Msg, "found eof") ||
				strings.Contains(d.Msg, "unterminated") ||
				strings.Contains(d.Msg, "an indented block") {
				return true
			}
		}
	}
	return false
}

// FormatResult renders a REPL result line; definitions and None print
// nothing.
func FormatResult(r PartialResult) string {
	c, ok := r.(*Constant)
	if !ok || c == nil {
		return ""
	}
	if c.Value.Tag == VNone {
		return ""
	}
	return c.Value.Repr()
}
