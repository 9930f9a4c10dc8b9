// Package logger provides structured logging for dbharness.
//
// It uses the standard library log/slog package with a JSON handler and a
// configurable level. Loggers travel through context.Context so that
// lifecycle operations pick up the logger of the test or command that
// started them.
package logger
