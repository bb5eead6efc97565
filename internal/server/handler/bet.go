package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// BetService defines the methods that the bet handler requires from the
// service layer.
type BetService interface {
	PlaceBet(ctx context.Context, marketID string, participant common.Address, side domain.Side, amount *big.Int) (domain.Position, error)
	ListPositions(ctx context.Context, marketID string) ([]domain.Position, error)
	GetPosition(ctx context.Context, marketID string, participant common.Address) (domain.Position, error)
}

// BetHandler serves bet placement and per-market position endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetRequest is the POST /api/markets/{id}/bets body. The amount must
// equal the chosen side's fixed stake; it is required explicitly so a client
// acknowledges how much it is escrowing.
type placeBetRequest struct {
	Participant string `json:"participant"`
	Side        string `json:"side"`
	Amount      string `json:"amount"`
}

// PlaceBet escrows a participant's stake on one side of a market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participant, ok := parseAddress(req.Participant)
	if !ok {
		writeError(w, http.StatusBadRequest, "participant must be a valid address")
		return
	}
	side := domain.Side(req.Side)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, `side must be "a" or "b"`)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a decimal amount")
		return
	}

	pos, err := h.bets.PlaceBet(r.Context(), id, participant, side, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// ListMarketPositions returns every position in a market in bet order.
// GET /api/markets/{id}/positions
func (h *BetHandler) ListMarketPositions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	positions, err := h.bets.ListPositions(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"positions": positions,
	})
}

// GetPosition returns one participant's position in a market.
// GET /api/markets/{id}/positions/{participant}
func (h *BetHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	participant, ok := parseAddress(pathParam(r, "participant"))
	if id == "" || !ok {
		writeError(w, http.StatusBadRequest, "missing market id or invalid participant")
		return
	}

	pos, err := h.bets.GetPosition(r.Context(), id, participant)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}
