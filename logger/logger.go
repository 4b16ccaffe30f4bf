// Package logger provides structured logging for the contract engine.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Pipeline invocation logging (requests, results, errors)
//   - Contract state-transition logging
//   - Automatic API key and sensitive-data redaction
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/MercatoLabs/dealkit/version"
)

// DefaultLogger is the global structured logger instance.
// It is safe for concurrent use and initialized with slog.LevelInfo by default.
var DefaultLogger *slog.Logger

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
	DefaultLogger.Debug("logger initialized", version.BuildAttrs()...)
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// PipelineCall logs a pipeline invocation with structured fields.
func PipelineCall(pipeline, sessionID string, inputs int, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"pipeline", pipeline,
		"session_id", sessionID,
		"inputs", inputs,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("Pipeline invocation", allAttrs...)
}

// PipelineResult logs a pipeline completion with its status and duration.
func PipelineResult(pipeline, sessionID, status string, seconds float64, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"pipeline", pipeline,
		"session_id", sessionID,
		"status", status,
		"execution_time", seconds,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("Pipeline completed", allAttrs...)
}

// StateChange logs a contract state transition.
func StateChange(sessionID, from, to, status string, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"session_id", sessionID,
		"from", from,
		"to", to,
		"status", status,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("Contract transition", allAttrs...)
}

// ServiceDegraded logs an operation-mode change from the resilience layer.
func ServiceDegraded(service, mode string, unavailable int, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"service", service,
		"mode", mode,
		"unavailable_services", unavailable,
	)
	allAttrs = append(allAttrs, attrs...)
	Warn("Operation mode changed", allAttrs...)
}

// apiKeyPatterns contains compiled regular expressions for detecting
// sensitive data in log output.
var apiKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),     // OpenAI API keys
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),   // Google API keys
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_-]+`), // Bearer tokens
}

// RedactSensitiveData removes API keys and other sensitive information from
// strings before they are logged or persisted. Matched patterns keep their
// first few characters for debugging context.
//
// This function is safe for concurrent use as it only reads from the
// compiled patterns.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
