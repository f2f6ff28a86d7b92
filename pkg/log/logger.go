// Package log provides structured logging utilities for arbnet services.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithMiner returns a logger with miner-specific fields
func (l *Logger) WithMiner(hotkey string) *Logger {
	return l.WithFields("miner_hotkey", hotkey)
}

// WithPair returns a logger with trading pair fields
func (l *Logger) WithPair(pair, exchangeFrom, exchangeTo string) *Logger {
	return l.WithFields("pair", pair, "exchange_from", exchangeFrom, "exchange_to", exchangeTo)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// Domain-specific logging helpers

// LogRequest logs an inbound arbitrage request and its outcome
func (l *Logger) LogRequest(hotkey, pair string, fraction float64, statusCode int, message string) {
	l.Info("arbitrage request",
		"miner_hotkey", hotkey,
		"pair", pair,
		"fraction", fraction,
		"status_code", statusCode,
		"message", message,
	)
}

// LogSettlement logs a completed settlement
func (l *Logger) LogSettlement(hotkey, pair string, amount, profit float64) {
	l.Info("settlement completed",
		"miner_hotkey", hotkey,
		"pair", pair,
		"amount", amount,
		"profit", profit,
	)
}

// LogScanCycle logs the outcome of a scanner cycle
func (l *Logger) LogScanCycle(observations, candidates int, durationMs float64) {
	l.Info("scan cycle completed",
		"observations", observations,
		"candidates", candidates,
		"duration_ms", durationMs,
	)
}

// LogWeightEmission logs a weight submission attempt
func (l *Logger) LogWeightEmission(positions int, step uint64, success bool) {
	l.Info("weight emission",
		"positions", positions,
		"step", step,
		"success", success,
	)
}
