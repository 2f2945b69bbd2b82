// Package logging provides structured logging for vsslctrl.
//
// It wraps log/slog with level parsing, output selection and default
// attributes (service name, version). Library packages that log accept a
// narrow Logger interface and default to a no-op implementation, so callers
// that do not care about logging pay nothing.
package logging
