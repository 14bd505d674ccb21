package handlers

import (
	"net/http"
	"time"

	"github.com/battis/batch-action/schedule"
)

const timeFormat = time.RFC3339

// NextRunResponse is the JSON response for the next run information.
type NextRunResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// StatusResponse is the consolidated response for /api/status.
type StatusResponse struct {
	Run       schedule.RunStatus `json:"run"`
	NextRun   NextRunResponse    `json:"next_run"`
	Installed bool               `json:"installed"`
	// Steps maps step keys such as "Database(0)" to what the step is
	// doing, or how it ended in the latest pass.
	Steps map[string]string `json:"steps,omitempty"`
}

// StatusProvider aggregates all the providers needed for the status endpoint.
type StatusProvider interface {
	RunStatusProvider
	NextRunProvider
	HasRun() (bool, error)
	StepStatuses() map[string]string
}

// StatusHandler handles requests for the consolidated status endpoint.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	installed, err := h.provider.HasRun()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	nextRun := h.provider.NextRun()
	writeJSON(w, http.StatusOK, StatusResponse{
		Run: h.provider.Status(),
		NextRun: NextRunResponse{
			Scheduled: nextRun != nil,
			NextRun:   nextRun,
		},
		Installed: installed,
		Steps:     h.provider.StepStatuses(),
	})
}
