// Package logger is a thin factory over log/slog with environment-driven
// level and format selection plus the attribute helpers used across the
// service.
package logger
