package handlers

import (
	"log/slog"
	"net/http"
)

// ReloadHandler re-reads the run history directory. Records written by
// another process, such as a `batchaction run` next to the scheduler, become
// visible to /history and the installed flag of /api/status counts them.
type ReloadHandler struct {
	logger   *slog.Logger
	reloader Reloader
}

// NewReloadHandler creates a new ReloadHandler.
func NewReloadHandler(logger *slog.Logger, reloader Reloader) *ReloadHandler {
	return &ReloadHandler{
		logger:   logger,
		reloader: reloader,
	}
}

// ServeHTTP implements http.Handler.
func (h *ReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("reloading run history")

	if err := h.reloader.Reload(); err != nil {
		h.logger.Error("failed to reload run history", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to reload run history: " + err.Error(),
		})
		return
	}

	h.logger.Info("run history reloaded successfully")
	w.WriteHeader(http.StatusNoContent)
}
