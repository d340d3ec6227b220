// Package logging is the shared, dependency-light logger used across
// pulseloop: subsystem-tagged lines, a debug gate, and TTY-aware color
// when stdout is a real terminal.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	isatty "github.com/mattn/go-isatty"
)

var (
	debugEnabled = os.Getenv("PULSELOOP_DEBUG") == "true"
	colorEnabled = isatty.IsTerminal(os.Stdout.Fd())
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
	colorGray   = "\x1b[90m"
)

func tag(subsystem, color string) string {
	if !colorEnabled {
		return "[" + subsystem + "]"
	}
	return color + "[" + subsystem + "]" + colorReset
}

// Info logs an informational message (always shown).
func Info(subsystem, format string, args ...any) {
	log.Printf("%s "+format, append([]any{tag(subsystem, colorBlue)}, args...)...)
}

// Debug logs a debug message, shown only when PULSELOOP_DEBUG=true.
func Debug(subsystem, format string, args ...any) {
	if debugEnabled {
		log.Printf("%s "+format, append([]any{tag(subsystem, colorGray)}, args...)...)
	}
}

// Warn logs a warning.
func Warn(subsystem, format string, args ...any) {
	log.Printf("%s "+format, append([]any{tag(subsystem, colorYellow)}, args...)...)
}

// Error logs an error.
func Error(subsystem, format string, args ...any) {
	log.Printf("%s "+format, append([]any{tag(subsystem, colorRed)}, args...)...)
}

// Truncate truncates a string to maxLen and adds ellipsis, flattening
// newlines for one-line logs.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Duration renders a duration the way operators read it in logs
// ("3 seconds", "2 minutes") rather than Go's "3.000123s".
func Duration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return humanize.RelTime(time.Now().Add(-d), time.Now(), "", "")
}
