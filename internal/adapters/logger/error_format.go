package logger

import (
	"errors"
	"strings"
)

// messager describes an error that can report its own message without the
// rendered chain. This matches the Message() method of zerr.Error
// (go.trai.ch/zerr v0.3.0+); errors without it fall back to Error().
type messager interface {
	Message() string
}

// collectErrorEntries walks the cause chain outermost first. zerr errors
// contribute their own message and the walk continues; the first plain
// error contributes its full Error() text and ends the walk.
func collectErrorEntries(err error) []string {
	var entries []string
	for current := err; current != nil; {
		m, ok := current.(messager)
		if !ok {
			entries = append(entries, current.Error())
			break
		}
		entries = append(entries, m.Message())
		current = errors.Unwrap(current)
	}
	return entries
}

// formatErrorEntries renders the chain as a primary "Error:" line followed
// by an indented "Caused by:" list. Continuation lines of multi-line
// messages are indented to align with their first line.
func formatErrorEntries(entries []string) string {
	var formatted []string
	for i, msg := range entries {
		lines := strings.Split(msg, "\n")
		if i == 0 {
			formatted = append(formatted, "Error: "+lines[0])
			for _, line := range lines[1:] {
				formatted = append(formatted, "       "+line)
			}
			continue
		}
		if i == 1 {
			formatted = append(formatted, "", "  Caused by:")
		}
		formatted = append(formatted, "    → "+lines[0])
		for _, line := range lines[1:] {
			formatted = append(formatted, "      "+line)
		}
	}
	return strings.Join(formatted, "\n")
}
