package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// SettlementService defines the methods that the claim handler requires from
// the service layer.
type SettlementService interface {
	Resolve(ctx context.Context, marketID string, winner domain.Side, sig []byte) (domain.Market, error)
	Claim(ctx context.Context, marketID string, winners, losers []common.Address) (domain.Settlement, error)
	SweepRemainder(ctx context.Context, marketID string) (*big.Int, error)
}

// ClaimHandler serves resolution, claim, and sweep endpoints.
type ClaimHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewClaimHandler creates a ClaimHandler with the given service and logger.
func NewClaimHandler(settlements SettlementService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{
		settlements: settlements,
		logger:      logger,
	}
}

// resolveRequest is the POST /api/markets/{id}/resolution body. The
// signature is the hex-encoded resolver signature over the market ID and
// winning side; it is optional when no resolver is configured.
type resolveRequest struct {
	Winner    string `json:"winner"`
	Signature string `json:"signature,omitempty"`
}

// Resolve fixes the winning side of a market.
// POST /api/markets/{id}/resolution
func (h *ClaimHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	winner := domain.Side(req.Winner)
	if !winner.Valid() {
		writeError(w, http.StatusBadRequest, `winner must be "a" or "b"`)
		return
	}

	var sig []byte
	if req.Signature != "" {
		var err error
		sig, err = hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "signature must be hex encoded")
			return
		}
	}

	market, err := h.settlements.Resolve(r.Context(), id, winner, sig)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// claimRequest is the POST /api/markets/{id}/claims body: the winner and
// loser batches to settle together.
type claimRequest struct {
	Winners []string `json:"winners"`
	Losers  []string `json:"losers"`
}

// Claim settles a batch of winners against a batch of losers.
// POST /api/markets/{id}/claims
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	winners, ok := parseAddresses(req.Winners)
	if !ok {
		writeError(w, http.StatusBadRequest, "winners must be valid addresses")
		return
	}
	losers, ok := parseAddresses(req.Losers)
	if !ok {
		writeError(w, http.StatusBadRequest, "losers must be valid addresses")
		return
	}

	settlement, err := h.settlements.Claim(r.Context(), id, winners, losers)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, settlement)
}

// Sweep releases a resolved market's accrued settlement dust.
// POST /api/markets/{id}/sweep
func (h *ClaimHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	amount, err := h.settlements.SweepRemainder(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"swept":     amount.String(),
	})
}

func parseAddresses(in []string) ([]common.Address, bool) {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		addr, ok := parseAddress(s)
		if !ok {
			return nil, false
		}
		out = append(out, addr)
	}
	return out, true
}
