package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	lython "github.com/kiwi-lang/lython"
)

const (
	appName     = "lython"
	historyFile = ".lython_history"
	promptMain  = ">>> "
	promptCont  = "... "
)

var banner = fmt.Sprintf("lython %s\nCtrl+C cancels input, Ctrl+D exits.", lython.Version)

func red(s string) string { return "\x1b[31m" + s + "\x1b[0m" }

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "repl" {
		os.Exit(cmdRepl())
	}
	if len(os.Args) >= 2 && os.Args[1] == "version" {
		fmt.Println(lython.Version)
		return
	}
	os.Exit(cmdRun(os.Args[1:]))
}

func usage() {
	fmt.Printf(`lython %s

Usage:
  %s [flags] [file]    Run a program (stdin when no file is given).
  %s repl              Start the interactive interpreter.
  %s version           Print the version.

Flags:
  --dump-tokens        Print the token stream and stop.
  --dump-ast           Print the parsed tree and stop.
  --sema-only          Stop after semantic analysis.
  --trace              Trace evaluation.
`, lython.Version, appName, appName, appName)
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet(appName, flag.ExitOnError)
	dumpTokens := fs.Bool("dump-tokens", false, "print the token stream and stop")
	dumpAST := fs.Bool("dump-ast", false, "print the parsed tree and stop")
	semaOnly := fs.Bool("sema-only", false, "stop after semantic analysis")
	trace := fs.Bool("trace", false, "trace evaluation")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := "<stdin>"
	var src []byte
	var err error
	if fs.NArg() > 0 {
		path = fs.Arg(0)
		src, err = os.ReadFile(path)
	} else {
		src, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, path, err)
		return 1
	}

	return lython.RunSource(path, string(src), lython.RunOptions{
		DumpTokens: *dumpTokens,
		DumpAST:    *dumpAST,
		SemaOnly:   *semaOnly,
		Trace:      *trace,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	})
}

func cmdRepl() int {
	fmt.Println(banner)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	ip := lython.NewInterpreter()
	var pending []string

	for {
		prompt := promptMain
		if len(pending) > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			pending = nil
			continue
		}
		if err != nil {
			fmt.Println()
			return 0
		}

		pending = append(pending, line)
		src := strings.Join(pending, "\n")
		if strings.TrimSpace(src) == "" {
			pending = nil
			continue
		}
		// keep reading while the input ends mid-construct; inside an open
		// block a blank line closes it
		if probeIncomplete(src) {
			continue
		}
		if len(pending) > 1 && strings.TrimSpace(line) != "" {
			continue
		}

		ln.AppendHistory(strings.Join(pending, " "))
		pending = nil

		result, diags := ip.Eval("<repl>", src)
		if diags.HasErrors() {
			for _, d := range diags.List {
				fmt.Fprintln(os.Stderr, red(lython.RenderWithSource(d, src)))
			}
			continue
		}
		if out := lython.FormatResult(result); out != "" {
			fmt.Println(out)
		}
	}
}

func probeIncomplete(src string) bool {
	_, diags := lython.Parse("<repl>", src)
	return lython.LooksIncomplete(diags)
}
