// Package ports defines the core interfaces for the application.
package ports

// Logger is the diagnostics sink for user-facing output.
//
//go:generate mockgen -source=logger.go -destination=mocks/mock_logger.go -package=mocks
type Logger interface {
	// Info logs an informational message.
	Info(msg string)

	// Warn logs a warning.
	Warn(msg string)

	// Error logs an error, rendering its cause chain.
	Error(err error)

	// Status logs a build progress line with an aligned verb, like
	// "Compiling serde v1.0.200".
	Status(verb, msg string)

	// Verbose logs a progress line shown only when verbose output is
	// enabled.
	Verbose(verb, msg string)
}
