package logging

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogCollector stores captured records grouped by step key, for example
// "Database(0)". It is safe for concurrent use.
type LogCollector struct {
	mu    sync.RWMutex
	logs  map[string][]LogEntry
	order []string
}

// NewLogCollector creates an empty LogCollector.
func NewLogCollector() *LogCollector {
	return &LogCollector{logs: make(map[string][]LogEntry)}
}

// AddLog appends entry under key.
func (c *LogCollector) AddLog(key string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.logs[key]; !ok {
		c.order = append(c.order, key)
	}
	c.logs[key] = append(c.logs[key], entry)
}

// GetLogs returns a copy of the entries captured under key.
func (c *LogCollector) GetLogs(key string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, ok := c.logs[key]
	if !ok {
		return nil
	}
	return slices.Clone(logs)
}

// GetAllLogs returns a copy of every captured entry, grouped by key.
func (c *LogCollector) GetAllLogs() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]LogEntry, len(c.logs))
	for k, v := range c.logs {
		out[k] = slices.Clone(v)
	}
	return out
}

// Keys returns the keys in the order they were first logged to.
func (c *LogCollector) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Len returns the total number of captured entries.
func (c *LogCollector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for v := range maps.Values(c.logs) {
		n += len(v)
	}
	return n
}

// Clear drops everything captured so far.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs = make(map[string][]LogEntry)
	c.order = nil
}
