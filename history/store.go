// Package history keeps a record of every batch pass on disk.
//
// Each pass is written as one JSON file named after its start time. A Store
// is also a batch.Marker: the system counts as installed once a successful
// pass has been recorded.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/battis/batch-action/batch"
)

// DefaultMaxRecords is used when NewStore is given a non-positive limit.
const DefaultMaxRecords = 50

// Store persists pass records to disk as JSON files.
type Store struct {
	dir       string
	logger    *slog.Logger
	maxCount  int
	records   []batch.Record // protected by mu, most recent first
	succeeded bool           // protected by mu
	mu        sync.Mutex
}

var _ batch.Marker = (*Store)(nil)

// NewStore creates a disk-backed store in dir.
// The directory is created if it doesn't exist, and existing records are loaded.
func NewStore(dir string, maxCount int, logger *slog.Logger) (*Store, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxRecords
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:      dir,
		logger:   logger.With("component", "history"),
		maxCount: maxCount,
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	records, succeeded, err := s.load()
	if err != nil {
		s.logger.Warn("failed to load existing records", "error", err)
	} else {
		s.records = records
		s.succeeded = succeeded
	}

	return s, nil
}

// Dir returns the directory records are written to.
func (s *Store) Dir() string {
	return s.dir
}

// List returns the loaded records, most recent first.
func (s *Store) List() []batch.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]batch.Record, len(s.records))
	copy(result, s.records)
	return result
}

// Get returns the record for runID.
func (s *Store) Get(runID string) (batch.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.RunID == runID {
			return rec, true
		}
	}
	return batch.Record{}, false
}

// Save persists rec to disk and updates the in-memory list.
func (s *Store) Save(rec batch.Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("cannot save record without a run id")
	}
	if rec.Started.IsZero() {
		return fmt.Errorf("cannot save record without start time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fileName(rec))
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	s.records = append([]batch.Record{rec}, s.records...)
	if len(s.records) > s.maxCount {
		s.records = s.records[:s.maxCount]
	}
	if rec.Success() {
		s.succeeded = true
	}

	s.logger.Debug("saved record to disk", "path", path, "run_id", rec.RunID)
	return nil
}

// HasRun reports whether any successful pass is on disk.
func (s *Store) HasRun() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.succeeded, nil
}

// MarkRun saves rec.
func (s *Store) MarkRun(rec batch.Record) error {
	return s.Save(rec)
}

// Reload re-loads all records from disk.
func (s *Store) Reload() error {
	records, succeeded, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.succeeded = succeeded

	return nil
}

// load reads every record file. The returned list is trimmed to maxCount;
// succeeded considers all files.
func (s *Store) load() ([]batch.Record, bool, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read history directory: %w", err)
	}

	var (
		records   []batch.Record
		succeeded bool
	)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read record file", "file", path, "error", err)
			continue
		}

		var rec batch.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("failed to parse record file", "file", path, "error", err)
			continue
		}
		if rec.Success() {
			succeeded = true
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Started.After(records[j].Started)
	})
	if len(records) > s.maxCount {
		records = records[:s.maxCount]
	}

	s.logger.Info("loaded run history from disk", "count", len(records))
	return records, succeeded, nil
}

// fileName is the start time followed by the first block of the run id, so
// passes started within the same second do not collide.
func fileName(rec batch.Record) string {
	id := rec.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return rec.Started.UTC().Format("2006-01-02T15-04-05") + "-" + id + ".json"
}
