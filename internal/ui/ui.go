// Package ui renders terminal output for the authprofiles CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/majorcontext/authprofiles/internal/health"
)

var writer io.Writer = os.Stderr

// SetWriter overrides the stderr writer. nil restores os.Stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

var stdoutColor = detectColor(os.Stdout)
var stderrColor = detectColor(os.Stderr)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

// ColorEnabled reports whether stdout color is enabled.
func ColorEnabled() bool {
	return stdoutColor
}

func ansi(code, s string) string {
	if !stdoutColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func ansiStderr(code, s string) string {
	if !stderrColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Bold(s string) string   { return ansi("1", s) }
func Dim(s string) string    { return ansi("2", s) }
func Green(s string) string  { return ansi("32", s) }
func Red(s string) string    { return ansi("31", s) }
func Yellow(s string) string { return ansi("33", s) }
func Cyan(s string) string   { return ansi("36", s) }

// Section prints a bold title with a thin underline to stdout.
func Section(title string) {
	fmt.Println(Bold(title))
	fmt.Println(Dim(strings.Repeat("─", len(title))))
}

func OKTag() string   { return Green("✓") }
func FailTag() string { return Red("✗") }
func WarnTag() string { return Yellow("⚠") }
func InfoTag() string { return Cyan("ℹ") }

// Status renders a health status in its color: green when usable, yellow
// when it will recover on its own, red when it needs the user.
func Status(s health.Status) string {
	switch s {
	case health.StatusOK:
		return Green(string(s))
	case health.StatusExpiring, health.StatusCoolingDown, health.StatusDisabled:
		return Yellow(string(s))
	default:
		return Red(string(s))
	}
}

// StatusTag returns the indicator for a health status.
func StatusTag(s health.Status) string {
	switch s {
	case health.StatusOK:
		return OKTag()
	case health.StatusExpiring, health.StatusCoolingDown, health.StatusDisabled:
		return WarnTag()
	default:
		return FailTag()
	}
}

// Warn prints a user-facing warning to stderr.
func Warn(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansiStderr("33", "Warning:"), msg)
}

// Warnf prints a formatted user-facing warning to stderr.
func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

// Error prints a user-facing error to stderr.
func Error(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansiStderr("31", "Error:"), msg)
}

// Errorf prints a formatted user-facing error to stderr.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Info prints a user-facing message to stderr with no prefix.
func Info(msg string) {
	fmt.Fprintln(writer, msg)
}

// Infof prints a formatted user-facing message to stderr with no prefix.
func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}
