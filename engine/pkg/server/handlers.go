package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/particlerush/tokenengine/engine/pkg/bridge"
	"github.com/particlerush/tokenengine/engine/pkg/chains"
	"github.com/particlerush/tokenengine/engine/pkg/claim"
	"github.com/particlerush/tokenengine/engine/pkg/earn"
	"github.com/particlerush/tokenengine/engine/pkg/ledger"
	"github.com/particlerush/tokenengine/engine/pkg/policy"
	"github.com/particlerush/tokenengine/engine/pkg/store"
)

type earnRequest struct {
	PlayerID string `json:"player_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

type earnResponse struct {
	EventID   uuid.UUID `json:"event_id"`
	PlayerID  string    `json:"player_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type claimRequest struct {
	PlayerID string `json:"player_id"`
}

type claimResponse struct {
	ClaimID         uuid.UUID `json:"claim_id"`
	PlayerID        string    `json:"player_id"`
	RequestedAmount int64     `json:"requested_amount"`
	Status          string    `json:"status"`
	TxRef           *string   `json:"tx_ref,omitempty"`
	FailReason      *string   `json:"fail_reason,omitempty"`
}

type bridgeRequest struct {
	PlayerID    string `json:"player_id"`
	DestChain   uint16 `json:"dest_chain"`
	DestAddress string `json:"dest_address"`
	Amount      int64  `json:"amount"`
}

type bridgeResponse struct {
	TransferID  uuid.UUID `json:"transfer_id"`
	PlayerID    string    `json:"player_id"`
	SourceChain uint16    `json:"source_chain"`
	DestChain   uint16    `json:"dest_chain"`
	Amount      int64     `json:"amount"`
	Fee         int64     `json:"fee"`
	Status      string    `json:"status"`
	LockTxRef   *string   `json:"lock_tx_ref,omitempty"`
	MintTxRef   *string   `json:"mint_tx_ref,omitempty"`
	RefundTxRef *string   `json:"refund_tx_ref,omitempty"`
	FailReason  *string   `json:"fail_reason,omitempty"`
}

type cycleResponse struct {
	CycleID     int64     `json:"cycle_id"`
	MintedAt    time.Time `json:"minted_at"`
	TotalMinted int64     `json:"total_minted"`
	OwnerShare  int64     `json:"owner_share"`
	PoolShare   int64     `json:"pool_share"`
	Status      string    `json:"status"`
	OwnerTxRef  *string   `json:"owner_tx_ref,omitempty"`
	PoolTxRef   *string   `json:"pool_tx_ref,omitempty"`
	FailReason  *string   `json:"fail_reason,omitempty"`
}

type balancesResponse struct {
	Pool  int64 `json:"pool"`
	Owner int64 `json:"owner"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleEarn(w http.ResponseWriter, r *http.Request) {
	var req earnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.PlayerID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("player_id is required"))
		return
	}

	event, err := s.cfg.Earn.RecordEarn(r.Context(), req.PlayerID, req.Amount, store.EarnReason(req.Reason))
	if err != nil {
		s.writeError(w, earnStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusCreated, earnResponse{
		EventID:   event.EventID,
		PlayerID:  event.PlayerID,
		Amount:    event.Amount,
		Reason:    string(event.Reason),
		CreatedAt: event.CreatedAt,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.PlayerID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("player_id is required"))
		return
	}

	c, err := s.cfg.Claims.Claim(r.Context(), req.PlayerID)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, toClaimResponse(c))
	case errors.Is(err, claim.ErrNothingToClaim):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, claim.ErrClaimUnresolved):
		// The settlement is in flight; the claim record tells the caller
		// where things stand.
		s.writeJSON(w, http.StatusAccepted, toClaimResponse(c))
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrRejectedByLedger):
		s.writeJSON(w, http.StatusBadGateway, toClaimResponse(c))
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	var req bridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.PlayerID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("player_id is required"))
		return
	}

	t, err := s.cfg.Bridger.Bridge(r.Context(), req.PlayerID, req.DestChain, req.DestAddress, req.Amount)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, toBridgeResponse(t))
	case errors.Is(err, chains.ErrUnsupportedChain),
		errors.Is(err, chains.ErrInvalidAddress),
		errors.Is(err, policy.ErrInvalidAmount),
		errors.Is(err, bridge.ErrFeeExceedsAmount):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, bridge.ErrInsufficientSettledBalance):
		s.writeError(w, http.StatusConflict, err)
	case t.TransferID != uuid.Nil:
		// The transfer opened but failed on the ledger; report its record.
		s.writeJSON(w, http.StatusBadGateway, toBridgeResponse(t))
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid claim id"))
		return
	}
	c, err := s.cfg.Claims.GetClaim(r.Context(), id)
	if err != nil {
		s.writeError(w, notFoundStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, toClaimResponse(c))
}

func (s *Server) handleGetBridge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid transfer id"))
		return
	}
	t, err := s.cfg.Bridger.GetTransfer(r.Context(), id)
	if err != nil {
		s.writeError(w, notFoundStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBridgeResponse(t))
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	cycles, err := s.cfg.Cycles.ListCycles(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]cycleResponse, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, cycleResponse{
			CycleID:     c.CycleID,
			MintedAt:    c.MintedAt,
			TotalMinted: c.TotalMinted,
			OwnerShare:  c.OwnerShare,
			PoolShare:   c.PoolShare,
			Status:      string(c.Status),
			OwnerTxRef:  c.OwnerTxRef,
			PoolTxRef:   c.PoolTxRef,
			FailReason:  c.FailReason,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	pool, err := s.cfg.Balances.PoolBalance(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	owner, err := s.cfg.Balances.OwnerBalance(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balancesResponse{Pool: pool, Owner: owner})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Ready(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("engine not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

func earnStatus(err error) int {
	switch {
	case errors.Is(err, earn.ErrInvalidAmount), errors.Is(err, earn.ErrUnknownReason):
		return http.StatusBadRequest
	case errors.Is(err, earn.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, earn.ErrPoolExhausted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func notFoundStatus(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func toClaimResponse(c store.Claim) claimResponse {
	return claimResponse{
		ClaimID:         c.ClaimID,
		PlayerID:        c.PlayerID,
		RequestedAmount: c.RequestedAmount,
		Status:          string(c.Status),
		TxRef:           c.TxRef,
		FailReason:      c.FailReason,
	}
}

func toBridgeResponse(t store.BridgeTransfer) bridgeResponse {
	return bridgeResponse{
		TransferID:  t.TransferID,
		PlayerID:    t.PlayerID,
		SourceChain: t.SourceChain,
		DestChain:   t.DestChain,
		Amount:      t.Amount,
		Fee:         t.Fee,
		Status:      string(t.Status),
		LockTxRef:   t.LockTxRef,
		MintTxRef:   t.MintTxRef,
		RefundTxRef: t.RefundTxRef,
		FailReason:  t.FailReason,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
