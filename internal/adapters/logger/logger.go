// Package logger implements a logging adapter using log/slog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"freight.build/freight/internal/core/ports"
	"freight.build/freight/internal/ui/style"
)

// Logger implements ports.Logger using log/slog.
type Logger struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	jsonMode bool
	verbose  bool
	output   io.Writer
}

// New creates a new Logger instance writing to stderr.
func New() ports.Logger {
	handler := NewPrettyHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger: slog.New(handler),
		output: os.Stderr,
	}
}

// SetOutput updates the logger's output destination. It is safe for
// concurrent use and preserves the current JSON mode. A nil writer falls
// back to stderr.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	l.output = w
	l.logger = slog.New(l.newHandler())
}

// SetJSON switches between JSON and pretty logging.
func (l *Logger) SetJSON(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonMode = enable
	l.logger = slog.New(l.newHandler())
}

// SetVerbose enables Verbose output.
func (l *Logger) SetVerbose(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = enable
}

// newHandler builds the handler for the current output and mode. Callers
// must hold the write lock.
func (l *Logger) newHandler() slog.Handler {
	w := l.output
	if w == nil {
		w = os.Stderr
	}
	if l.jsonMode {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return NewPrettyHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
}

// Info logs an informational message.
func (l *Logger) Info(msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Info(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Warn(msg)
}

// Status logs a build progress line with the verb right-aligned the way
// the compiler's own output is, e.g. "   Compiling serde v1.0.200".
func (l *Logger) Status(verb, msg string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.jsonMode {
		l.logger.Info(msg, "verb", verb)
		return
	}
	l.logger.Info(fmt.Sprintf("%*s %s", style.StatusVerbWidth, verb, msg), slog.String(verbAttrKey, verb))
}

// Verbose logs a progress line only when verbose output is enabled.
func (l *Logger) Verbose(verb, msg string) {
	l.mu.RLock()
	verbose := l.verbose
	l.mu.RUnlock()
	if !verbose {
		return
	}
	l.Status(verb, msg)
}

// Error logs an error, rendering its cause chain.
func (l *Logger) Error(err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err == nil {
		return
	}
	if l.jsonMode {
		l.logger.Error("operation failed", "error", err)
		return
	}
	l.logger.Error(formatErrorEntries(collectErrorEntries(err)))
}
