package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/schedule"
)

// RunRequest defines the request body for POST /run. An empty body runs a
// non-forced pass over every step.
type RunRequest struct {
	Force  bool   `json:"force"`
	Select string `json:"select"`
}

// RunHandler handles requests to trigger a batch pass.
type RunHandler struct {
	runner BatchRunner
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(r BatchRunner) *RunHandler {
	return &RunHandler{
		runner: r,
	}
}

// ServeHTTP implements http.Handler.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}

	sel, err := batch.ParseSelector(req.Select)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	if err := h.runner.Start(r.Context(), req.Force, sel); err != nil {
		if errors.Is(err, schedule.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error: err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
