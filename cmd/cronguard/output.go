package main

import (
	"io"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-isatty"
	"tools.zach/dev/cronguard/internal/guard"
)

// colorizer returns an aurora instance that only emits escape codes when w
// is a terminal and NO_COLOR is unset.
func colorizer(w io.Writer) aurora.Aurora {
	enabled := false
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		enabled = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		enabled = false
	}
	return aurora.NewAurora(enabled)
}

// outcomeColor renders an outcome: green for a clean run, yellow for skipped
// cycles, red for everything that needs attention.
func outcomeColor(au aurora.Aurora, o guard.Outcome, exitCode int) aurora.Value {
	switch {
	case o == guard.OutcomeRan && exitCode == 0:
		return au.Green(o)
	case o.Skipped():
		return au.Yellow(o)
	default:
		return au.Red(o)
	}
}
