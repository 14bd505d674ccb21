package logging

import (
	"log/slog"
)

// LoggerHook derives the logger handed to a single batch step. The batch
// manager stays unaware of capturing; a hook decides what happens to the
// records.
type LoggerHook interface {
	// LoggerForStep wraps base for the step identified by key.
	LoggerForStep(base *slog.Logger, key string) *slog.Logger
}

// CapturingLoggerHook tees every step's records into a LogCollector.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook creates a hook that captures into collector.
func NewCapturingLoggerHook(collector *LogCollector) *CapturingLoggerHook {
	return &CapturingLoggerHook{collector: collector}
}

// LoggerForStep returns a logger whose records are captured under key and
// still reach base's handler.
func (h *CapturingLoggerHook) LoggerForStep(base *slog.Logger, key string) *slog.Logger {
	return slog.New(NewCapturingHandler(base.Handler(), h.collector, key))
}

// Collector returns the collector records are captured into.
func (h *CapturingLoggerHook) Collector() *LogCollector {
	return h.collector
}
