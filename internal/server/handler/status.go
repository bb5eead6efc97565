package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StatusService provides the counters shown on the status endpoint.
type StatusService interface {
	Count(ctx context.Context) (int64, error)
}

// StatusHandler serves runtime status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	service   StatusService
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given runtime mode.
func NewStatusHandler(mode string, startedAt time.Time, service StatusService, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		service:   service,
		logger:    logger,
	}
}

// GetStatus responds with the current runtime mode, uptime, and market count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	markets, err := h.service.Count(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"markets":        markets,
	})
}
