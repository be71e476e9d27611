package gateway

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fusiond/native/escrow"
	"fusiond/native/htlc"
)

func parseRole(raw string) (escrow.Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "source":
		return escrow.RoleSource, nil
	case "destination":
		return escrow.RoleDestination, nil
	default:
		return 0, fmt.Errorf("role must be source or destination")
	}
}

func escrowID(r *http.Request) ([32]byte, bool) {
	id, err := parseHash32(chi.URLParam(r, "id"))
	return id, err == nil
}

type createEscrowRequest struct {
	Role     string `json:"role"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Maker    string `json:"maker"`
	Taker    string `json:"taker"`
	Hashlock string `json:"hashlock"`
	Timelock int64  `json:"timelock"`
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	params := escrow.CreateParams{
		Token:    req.Token,
		Timelock: req.Timelock,
	}
	var err error
	if params.Role, err = parseRole(req.Role); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.Amount, err = parseAmount(req.Amount); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.Maker, err = parseAddress(req.Maker); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.Taker, err = parseAddress(req.Taker); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.Hashlock, err = htlc.ParseHashlock(strings.TrimPrefix(strings.TrimSpace(req.Hashlock), "0x")); err != nil {
		badRequest(w, err.Error())
		return
	}

	esc, err := s.escrows.Create(params)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("escrow created",
		"escrowId", hexHash(esc.ID),
		"role", esc.Role.String(),
		"token", esc.Token,
	)
	writeJSON(w, http.StatusCreated, renderEscrow(esc))
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	var status escrow.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := escrow.ParseStatus(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		status = parsed
	}
	views := make([]escrowView, 0)
	for _, esc := range s.escrows.List(status) {
		views = append(views, renderEscrow(esc))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		badRequest(w, "invalid escrow id")
		return
	}
	esc, err := s.escrows.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderEscrow(esc))
}

type fundEscrowRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleFundEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		badRequest(w, "invalid escrow id")
		return
	}
	var req fundEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.escrows.Fund(r.Context(), id, caller, amount); err != nil {
		writeError(w, err)
		return
	}
	s.renderEscrowByID(w, id)
}

type claimEscrowRequest struct {
	Caller string `json:"caller"`
	Secret string `json:"secret"`
}

func (s *Server) handleClaimEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		badRequest(w, "invalid escrow id")
		return
	}
	var req claimEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	secret, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Secret), "0x"))
	if err != nil {
		badRequest(w, "invalid secret encoding")
		return
	}
	if err := s.escrows.Claim(r.Context(), id, caller, secret); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("escrow claimed", "escrowId", hexHash(id))
	s.renderEscrowByID(w, id)
}

type refundEscrowRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleRefundEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(r)
	if !ok {
		badRequest(w, "invalid escrow id")
		return
	}
	var req refundEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.escrows.Refund(r.Context(), id, caller); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("escrow refunded", "escrowId", hexHash(id))
	s.renderEscrowByID(w, id)
}

func (s *Server) renderEscrowByID(w http.ResponseWriter, id [32]byte) {
	esc, err := s.escrows.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderEscrow(esc))
}
