package gateway

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fusiond/native/coordination"
	"fusiond/native/htlc"
)

type beginSwapRequest struct {
	OrderID      uint64 `json:"orderId"`
	Maker        string `json:"maker"`
	Taker        string `json:"taker"`
	SourceToken  string `json:"sourceToken"`
	DestToken    string `json:"destToken"`
	SourceAmount string `json:"sourceAmount"`
	DestAmount   string `json:"destAmount"`
	Hashlock     string `json:"hashlock"`
	BaseTimelock int64  `json:"baseTimelock"`
}

func swapID(r *http.Request) ([32]byte, bool) {
	id, err := parseHash32(chi.URLParam(r, "id"))
	return id, err == nil
}

func (s *Server) handleBeginSwap(w http.ResponseWriter, r *http.Request) {
	var req beginSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	params := coordination.BeginParams{
		OrderID:      req.OrderID,
		SourceToken:  req.SourceToken,
		DestToken:    req.DestToken,
		BaseTimelock: req.BaseTimelock,
	}
	var err error
	if params.Maker, err = parseAddress(req.Maker); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.Taker, err = parseAddress(req.Taker); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.SourceAmount, err = parseAmount(req.SourceAmount); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.DestAmount, err = parseAmount(req.DestAmount); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.Hashlock, err = htlc.ParseHashlock(strings.TrimPrefix(strings.TrimSpace(req.Hashlock), "0x")); err != nil {
		badRequest(w, err.Error())
		return
	}

	swap, err := s.swaps.Begin(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("swap initiated",
		"swapId", hexHash(swap.ID),
		"orderId", swap.OrderID,
		"sourceTimelock", swap.Timelocks.Source,
		"destTimelock", swap.Timelocks.Destination,
	)
	writeJSON(w, http.StatusCreated, renderSwap(swap))
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	views := make([]swapView, 0)
	for _, swap := range s.swaps.List() {
		views = append(views, renderSwap(swap))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(r)
	if !ok {
		badRequest(w, "invalid swap id")
		return
	}
	swap, err := s.swaps.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSwap(swap))
}

type fundLegRequest struct {
	Role   string `json:"role"`
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleFundLeg(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(r)
	if !ok {
		badRequest(w, "invalid swap id")
		return
	}
	var req fundLegRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		badRequest(w, err.Error())
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
	if err := s.swaps.FundLeg(r.Context(), id, role, caller, amount); err != nil {
		writeError(w, err)
		return
	}
	swap, err := s.swaps.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSwap(swap))
}

type revealSecretRequest struct {
	Caller string `json:"caller"`
	// Secret is optional when retrying a swap that already recorded it.
	Secret string `json:"secret,omitempty"`
}

func (s *Server) handleRevealSecret(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(r)
	if !ok {
		badRequest(w, "invalid swap id")
		return
	}
	var req revealSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var secret []byte
	if trimmed := strings.TrimPrefix(strings.TrimSpace(req.Secret), "0x"); trimmed != "" {
		secret, err = hex.DecodeString(trimmed)
		if err != nil {
			badRequest(w, "invalid secret encoding")
			return
		}
	}
	if err := s.swaps.RevealSecret(r.Context(), id, caller, secret); err != nil {
		writeError(w, err)
		return
	}
	swap, err := s.swaps.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("swap secret revealed", "swapId", hexHash(id), "state", swap.State.String())
	writeJSON(w, http.StatusOK, renderSwap(swap))
}

type partitionRequest struct {
	ObservedLag int64 `json:"observedLag"`
}

func (s *Server) handleRecordPartition(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(r)
	if !ok {
		badRequest(w, "invalid swap id")
		return
	}
	var req partitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.ObservedLag <= 0 {
		badRequest(w, "observedLag must be positive")
		return
	}
	timelocks, err := s.swaps.RecordPartition(id, req.ObservedLag)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Warn("network partition recorded",
		"swapId", hexHash(id),
		"observedLag", req.ObservedLag,
	)
	writeJSON(w, http.StatusOK, timelocks)
}

type swapTimelocks struct {
	SwapID      string              `json:"swapId"`
	Source      htlc.TimelockStatus `json:"source"`
	Destination htlc.TimelockStatus `json:"destination"`
	Buffer      int64               `json:"buffer"`
	AsOf        int64               `json:"asOf"`
}

func (s *Server) handleSwapTimelocks(w http.ResponseWriter, r *http.Request) {
	id, ok := swapID(r)
	if !ok {
		badRequest(w, "invalid swap id")
		return
	}
	swap, err := s.swaps.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.swaps.Now()
	writeJSON(w, http.StatusOK, swapTimelocks{
		SwapID:      hexHash(swap.ID),
		Source:      htlc.StatusAt(swap.Timelocks.Source, now),
		Destination: htlc.StatusAt(swap.Timelocks.Destination, now),
		Buffer:      swap.Timelocks.Buffer,
		AsOf:        now,
	})
}

