package statusreporter

import (
	"maps"
	"sync"
)

// StatusCollection stores status messages by step key, for example
// "Database(0)". This is the shared storage that all status lines write to.
type StatusCollection struct {
	statuses map[string]string
	mu       sync.RWMutex
}

// NewStatusCollection creates a new status collection.
func NewStatusCollection() *StatusCollection {
	return &StatusCollection{
		statuses: make(map[string]string),
	}
}

// Set updates the status for a step.
// This is called by StatusLine instances.
func (sc *StatusCollection) Set(key, status string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.statuses[key] = status
}

// Get returns the status for a step.
func (sc *StatusCollection) Get(key string) string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.statuses[key]
}

// All returns a copy of all step statuses.
// Used by the server to report progress of the running pass.
func (sc *StatusCollection) All() map[string]string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return maps.Clone(sc.statuses)
}

// Clear drops every status. Called when a new pass starts.
func (sc *StatusCollection) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	clear(sc.statuses)
}
