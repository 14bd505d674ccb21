package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/schedule"
)

type mockReloader struct {
	err error
}

func (m *mockReloader) Reload() error {
	return m.err
}

type mockRunner struct {
	err   error
	force bool
	sel   *batch.Selector
	calls int
}

func (m *mockRunner) Start(ctx context.Context, force bool, sel *batch.Selector) error {
	m.calls++
	m.force = force
	m.sel = sel
	return m.err
}

type mockHistory struct {
	records []batch.Record
}

func (m *mockHistory) List() []batch.Record {
	return m.records
}

func (m *mockHistory) Get(runID string) (batch.Record, bool) {
	for _, rec := range m.records {
		if rec.RunID == runID {
			return rec, true
		}
	}
	return batch.Record{}, false
}

type mockStatus struct {
	status    schedule.RunStatus
	next      *time.Time
	installed bool
	steps     map[string]string
	err       error
}

func (m *mockStatus) Status() schedule.RunStatus { return m.status }
func (m *mockStatus) NextRun() *time.Time        { return m.next }
func (m *mockStatus) HasRun() (bool, error)      { return m.installed, m.err }
func (m *mockStatus) StepStatuses() map[string]string {
	return m.steps
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", w.Body.String())
}

func TestReloadHandler_Success(t *testing.T) {
	handler := NewReloadHandler(logging.Discard(), &mockReloader{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reload", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestReloadHandler_Error(t *testing.T) {
	handler := NewReloadHandler(logging.Discard(), &mockReloader{err: errors.New("permission denied")})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reload", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "permission denied")
}

func TestRunHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		runErr     error
		wantStatus int
		wantForce  bool
		wantSel    string
	}{
		{name: "empty body", body: "", wantStatus: http.StatusAccepted, wantSel: "*"},
		{name: "forced selection", body: `{"force":true,"select":"Script:1"}`, wantStatus: http.StatusAccepted, wantForce: true, wantSel: "Script:1"},
		{name: "invalid JSON", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "invalid selector", body: `{"select":"Backups"}`, wantStatus: http.StatusBadRequest},
		{name: "run in progress", body: `{}`, runErr: schedule.ErrRunInProgress, wantStatus: http.StatusConflict, wantSel: "*"},
		{name: "other error", body: `{}`, runErr: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantSel: "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{err: tt.runErr}
			handler := NewRunHandler(runner)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantSel == "" {
				assert.Zero(t, runner.calls)
				return
			}
			assert.Equal(t, 1, runner.calls)
			assert.Equal(t, tt.wantForce, runner.force)
			assert.Equal(t, tt.wantSel, runner.sel.String())
		})
	}
}

func TestHistoryHandler(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	provider := &mockHistory{records: []batch.Record{
		{RunID: "b", Started: started.Add(time.Hour), Finished: started.Add(time.Hour), Selector: "*", Error: "boom"},
		{RunID: "a", Started: started, Finished: started.Add(time.Minute), Selector: "*", Steps: make([]batch.StepRecord, 3)},
	}}

	w := httptest.NewRecorder()
	NewHistoryHandler(provider).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got []HistorySummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].RunID)
	assert.False(t, got[0].Success)
	assert.Equal(t, "boom", got[0].Error)
	assert.Equal(t, 3, got[1].Steps)
	assert.Equal(t, "2024-03-01T10:00:00Z", got[1].Started)
}

func TestRecordHandler(t *testing.T) {
	provider := &mockHistory{records: []batch.Record{{RunID: "run-1", Selector: "*"}}}
	mux := http.NewServeMux()
	mux.Handle("GET /history/{id}", NewRecordHandler(provider))
	mux.Handle("GET /history/record", NewRecordHandler(provider))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history/run-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-1"`)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history/record", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusHandler(t *testing.T) {
	next := time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC)
	provider := &mockStatus{
		status:    schedule.RunStatus{State: schedule.RunStateRunning, Selector: "*"},
		next:      &next,
		installed: true,
		steps:     map[string]string{"Database(0)": "running ImportSchema"},
	}

	w := httptest.NewRecorder()
	NewStatusHandler(provider).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, `"state":"running"`)
	assert.Contains(t, body, `"scheduled":true`)
	assert.Contains(t, body, `"installed":true`)
	assert.Contains(t, body, `"steps":{"Database(0)":"running ImportSchema"}`)
}

func TestStatusHandler_MarkerError(t *testing.T) {
	provider := &mockStatus{err: errors.New("stat failed")}

	w := httptest.NewRecorder()
	NewStatusHandler(provider).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
