// Package logging defines a minimal structured-logging interface used across
// the project. Implementations can wrap slog, zap, zerolog, etc.
package logging

// Logger is a structured logger injected into every component that reports
// progress or diagnostics.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info("uploading activity", "id", id, "size", len(content))
type Logger interface {
	// Debug logs verbose diagnostics, emitted only when debug output is on.
	Debug(msg string, args ...any)

	// Info logs an informational message.
	Info(msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(msg string, args ...any)

	// Error logs an error message for failures.
	Error(msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}
