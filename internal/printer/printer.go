// Package printer writes coloured CLI output.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dyluth/lodge/internal/worker"
	"github.com/fatih/color"
)

func init() {
	// Keep colours when piped; NO_COLOR still disables them
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

// Destinations for normal and error output. Tests swap these.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow to stderr
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Err, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error with title, explanation and suggestions to
// stderr and returns an error carrying only the title, for Cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between the
// explanation and the suggestions. Keys are printed in sorted order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(Err)
		for _, k := range keys {
			fmt.Fprintf(Err, "  %s: %s\n", k, context[k])
		}
	}

	printSuggestions(suggestions)

	// SilenceErrors keeps Cobra from printing this a second time
	return fmt.Errorf("%s", title)
}

func printSuggestions(suggestions []string) {
	switch len(suggestions) {
	case 0:
		return
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Err, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(Err, "  %d. %s\n", i+1, suggestion)
		}
	}
}

// Workers prints one line per worker status, coloured by state.
func Workers(statuses []worker.Status) {
	if len(statuses) == 0 {
		fmt.Fprintln(Out, "No workers running")
		return
	}

	fmt.Fprintf(Out, "%-12s %-13s %-9s %-7s %s\n", "WORKER", "STATE", "PACKETS", "ERRORS", "GOAL")
	for _, s := range statuses {
		state := stateColor(s.State).Sprintf("%-13s", s.State)
		fmt.Fprintf(Out, "%-12s %s %-9d %-7d %s\n", s.Name, state, s.Metrics.PacketsProcessed, s.Metrics.Errors, s.Goal)
	}
}

func stateColor(s worker.State) *color.Color {
	switch s {
	case worker.StateActive:
		return green
	case worker.StateWaiting, worker.StateInitializing:
		return yellow
	case worker.StateError:
		return red
	case worker.StateCompleted:
		return cyan
	default:
		return faint
	}
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(Out, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}
