package match

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Reporter receives operator-facing messages.
type Reporter interface {
	Message(format string, args ...any)
	Important(format string, args ...any)
	Error(format string, args ...any)
	Success(format string, args ...any)
	// Command shows a shell command the operator can run.
	Command(command string)
}

// ConsoleReporter writes colored lines to a terminal
type ConsoleReporter struct {
	w io.Writer

	important *color.Color
	err       *color.Color
	success   *color.Color
	command   *color.Color
}

// NewConsoleReporter writes to w. Colors follow color.NoColor.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{
		w:         w,
		important: color.New(color.FgYellow),
		err:       color.New(color.FgRed),
		success:   color.New(color.FgGreen),
		command:   color.New(color.FgCyan, color.Bold),
	}
}

func (r *ConsoleReporter) Message(format string, args ...any) {
	fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *ConsoleReporter) Important(format string, args ...any) {
	r.important.Fprintf(r.w, format+"\n", args...)
}

func (r *ConsoleReporter) Error(format string, args ...any) {
	r.err.Fprintf(r.w, format+"\n", args...)
}

func (r *ConsoleReporter) Success(format string, args ...any) {
	r.success.Fprintf(r.w, format+"\n", args...)
}

func (r *ConsoleReporter) Command(command string) {
	r.command.Fprintf(r.w, "$ %s\n", command)
}

// Discard drops every message
var Discard Reporter = discard{}

type discard struct{}

func (discard) Message(string, ...any)   {}
func (discard) Important(string, ...any) {}
func (discard) Error(string, ...any)     {}
func (discard) Success(string, ...any)   {}
func (discard) Command(string)           {}
