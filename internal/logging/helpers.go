package logging

import "log/slog"

// Info logs an info message when a logger is configured.
func Info(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Info(msg, args...)
	}
}

// Warn logs a warning when a logger is configured.
func Warn(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// WarnErr logs a recoverable failure with err under FieldError. Feed drops,
// reconnects and reconcile misses go through here so every error lands on
// the same key.
func WarnErr(logger *slog.Logger, msg string, err error, args ...any) {
	Warn(logger, msg, withErr(args, err)...)
}

// Error logs an error when a logger is configured.
func Error(logger *slog.Logger, msg string, err error, args ...any) {
	if logger != nil {
		logger.Error(msg, withErr(args, err)...)
	}
}

// With returns logger scoped by args, or nil when logger is nil.
func With(logger *slog.Logger, args ...any) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(args...)
}

func withErr(args []any, err error) []any {
	if err == nil {
		return args
	}
	return append(args, FieldError, err)
}
