package handlers

import (
	"net/http"
)

// HistorySummary is one line of GET /history.
type HistorySummary struct {
	RunID    string `json:"run_id"`
	Started  string `json:"started"`
	Finished string `json:"finished"`
	Forced   bool   `json:"forced"`
	Selector string `json:"selector"`
	Steps    int    `json:"steps"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// HistoryHandler handles requests for the run history.
type HistoryHandler struct {
	provider HistoryProvider
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(provider HistoryProvider) *HistoryHandler {
	return &HistoryHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	records := h.provider.List()
	summaries := make([]HistorySummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, HistorySummary{
			RunID:    rec.RunID,
			Started:  rec.Started.Format(timeFormat),
			Finished: rec.Finished.Format(timeFormat),
			Forced:   rec.Forced,
			Selector: rec.Selector,
			Steps:    len(rec.Steps),
			Success:  rec.Success(),
			Error:    rec.Error,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// RecordHandler returns one full record, with outcomes and step logs.
type RecordHandler struct {
	provider HistoryProvider
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(provider HistoryProvider) *RecordHandler {
	return &RecordHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *RecordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing run id"})
		return
	}

	rec, ok := h.provider.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no recorded run " + id})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
