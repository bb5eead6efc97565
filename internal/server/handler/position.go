package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	ListParticipantPositions(ctx context.Context, participant common.Address, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves cross-market position queries.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns a participant's positions across markets.
// GET /api/positions?participant=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	participant, ok := parseAddress(r.URL.Query().Get("participant"))
	if !ok {
		writeError(w, http.StatusBadRequest, "participant query parameter required")
		return
	}

	positions, err := h.positions.ListParticipantPositions(r.Context(), participant, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
