package statusreporter

import (
	"log/slog"
)

// StatusLine logs status with step context AND updates the shared collection.
// The manager creates one per dispatched step.
// Handlers use it to report their status with a clean API: line.Set("message")
type StatusLine struct {
	logger     *slog.Logger
	collection *StatusCollection
	key        string
}

// NewStatusLine creates a status line bound to a step key.
// The collection parameter is optional - if nil, status updates are only logged.
func NewStatusLine(key string, logger *slog.Logger, collection *StatusCollection) *StatusLine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusLine{
		logger:     logger,
		collection: collection,
		key:        key,
	}
}

// Key returns the step key the line is bound to.
func (sl *StatusLine) Key() string {
	if sl == nil {
		return ""
	}
	return sl.key
}

// Set logs the status and updates the collection if present.
// A nil StatusLine ignores the call.
func (sl *StatusLine) Set(status string) {
	if sl == nil {
		return
	}
	sl.logger.Debug(status, "status_key", sl.key)
	if sl.collection != nil {
		sl.collection.Set(sl.key, status)
	}
}
