package ports

import "context"

// Logger is the structured logging interface injected into every component.
// Fields are optional key/value maps merged into the log entry, which keeps
// the engine free of any concrete logging library.
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs a message at Warning level.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs an error with a message at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
