// Package observability provides structured logging, metrics, and
// distributed tracing for diagram execution.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds execution context to a logger.
// Returns a new logger with run_id, node_id, and iteration fields.
func EnrichLogger(logger *slog.Logger, runID, nodeID string, iteration int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.Int("iteration", iteration),
	)
}

// LogRunStart logs the start of a diagram execution.
func LogRunStart(logger *slog.Logger, runID, diagram string) {
	if logger == nil {
		return
	}
	logger.Info("execution starting",
		slog.String("run_id", runID),
		slog.String("diagram", diagram),
	)
}

// LogRunComplete logs successful execution completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, dispatches int) {
	if logger == nil {
		return
	}
	logger.Info("execution completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("dispatches", dispatches),
	)
}

// LogRunError logs execution failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("execution failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeStart logs node invocation start.
func LogNodeStart(logger *slog.Logger, nodeID string, iteration int) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.Int("iteration", iteration),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, iteration int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Int("iteration", iteration),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node invocation error.
func LogNodeError(logger *slog.Logger, nodeID string, iteration int, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.Int("iteration", iteration),
		slog.String("error", err.Error()),
	)
}

// LogNodeSkipped logs a node settling without running.
func LogNodeSkipped(logger *slog.Logger, nodeID, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("node skipped",
		slog.String("node_id", nodeID),
		slog.String("reason", reason),
	)
}

// LogStateError logs a state-store write failure (non-fatal).
func LogStateError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("state store write failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
