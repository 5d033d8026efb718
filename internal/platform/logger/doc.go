// Package logger provides structured logging for the task engine.
//
// It builds on the standard library's log/slog package, emitting JSON
// records at a configurable level, and carries request/worker scoped
// loggers through context.Context.
package logger
