package gateway

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fusiond/native/htlc"
	"fusiond/native/order"
)

type createOrderRequest struct {
	Maker          string               `json:"maker"`
	Receiver       string               `json:"receiver,omitempty"`
	MakerAsset     string               `json:"makerAsset"`
	TakerAsset     string               `json:"takerAsset"`
	MakingAmount   string               `json:"makingAmount"`
	TakingAmount   string               `json:"takingAmount"`
	ExclusiveTaker string               `json:"exclusiveTaker,omitempty"`
	Expiration     int64                `json:"expiration"`
	Auction        *order.AuctionParams `json:"auction,omitempty"`
	PartsCount     uint32               `json:"partsCount,omitempty"`
	SecretHashes   []string             `json:"secretHashes,omitempty"`
	Signature      string               `json:"signature,omitempty"`
}

func orderID(r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	return id, err == nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	params := order.CreateParams{
		MakerAsset: req.MakerAsset,
		TakerAsset: req.TakerAsset,
		Expiration: req.Expiration,
		Auction:    req.Auction,
		PartsCount: req.PartsCount,
	}
	var err error
	if params.Maker, err = parseAddress(req.Maker); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Receiver != "" {
		if params.Receiver, err = parseAddress(req.Receiver); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	if req.ExclusiveTaker != "" {
		if params.ExclusiveTaker, err = parseAddress(req.ExclusiveTaker); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	if params.MakingAmount, err = parseAmount(req.MakingAmount); err != nil {
		badRequest(w, err.Error())
		return
	}
	if params.TakingAmount, err = parseAmount(req.TakingAmount); err != nil {
		badRequest(w, err.Error())
		return
	}
	for _, raw := range req.SecretHashes {
		hash, err := htlc.ParseHashlock(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		params.SecretHashes = append(params.SecretHashes, hash)
	}
	if req.Signature != "" {
		sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
		if err != nil {
			badRequest(w, "invalid signature encoding")
			return
		}
		params.Signature = sig
	}

	created, err := s.orders.Create(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("order created",
		"orderId", created.ID,
		"makerAsset", created.MakerAsset,
		"takerAsset", created.TakerAsset,
	)
	writeJSON(w, http.StatusCreated, renderOrder(created, created.CreatedAt))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var status order.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := order.ParseStatus(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		status = parsed
	}
	var list []*order.Order
	switch q := r.URL.Query(); {
	case q.Get("maker") != "":
		maker, err := parseAddress(q.Get("maker"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		list = s.orders.ListByMaker(maker)
	case q.Get("makerAsset") != "" && q.Get("takerAsset") != "":
		list = s.orders.ListByPair(q.Get("makerAsset"), q.Get("takerAsset"))
	default:
		list = s.orders.List(status)
	}

	now := s.orders.Now()
	views := make([]orderView, 0)
	for _, o := range list {
		if status != 0 && o.Status != status {
			continue
		}
		views = append(views, renderOrder(o, now))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orders.Stats())
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	o, err := s.orders.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrder(o, s.orders.Now()))
}

type orderQuote struct {
	OrderID         uint64 `json:"orderId"`
	CurrentPrice    string `json:"currentPrice"`
	RemainingMaking string `json:"remainingMaking"`
	Profitable      bool   `json:"profitable"`
	AsOf            int64  `json:"asOf"`
}

// handleOrderQuote evaluates the auction curve at the engine clock so takers
// can decide whether a fill clears before committing funds.
func (s *Server) handleOrderQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	o, err := s.orders.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	fee, err := parseOptionalAmount(r.URL.Query().Get("fee"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	now := s.orders.Now()
	writeJSON(w, http.StatusOK, orderQuote{
		OrderID:         o.ID,
		CurrentPrice:    amountString(o.PriceAt(now)),
		RemainingMaking: amountString(o.RemainingMaking()),
		Profitable:      o.ProfitableAt(now, fee),
		AsOf:            now,
	})
}

type cancelOrderRequest struct {
	Maker string `json:"maker"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	maker, err := parseAddress(req.Maker)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.orders.Cancel(id, maker); err != nil {
		writeError(w, err)
		return
	}
	o, err := s.orders.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrder(o, s.orders.Now()))
}

type fillOrderRequest struct {
	Taker string `json:"taker"`
	Fee   string `json:"fee,omitempty"`
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	var req fillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	taker, err := parseAddress(req.Taker)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	fee, err := parseOptionalAmount(req.Fee)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.orders.Fill(r.Context(), id, taker, fee); err != nil {
		writeError(w, err)
		return
	}
	o, err := s.orders.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("order filled", "orderId", id, "taker", hexAddr(taker))
	writeJSON(w, http.StatusOK, renderOrder(o, s.orders.Now()))
}

type partialFillRequest struct {
	Resolver     string `json:"resolver"`
	MakingAmount string `json:"makingAmount"`
	SecretIndex  uint32 `json:"secretIndex"`
	Fee          string `json:"fee,omitempty"`
}

func (s *Server) handlePartialFill(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	var req partialFillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	resolver, err := parseAddress(req.Resolver)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	making, err := parseAmount(req.MakingAmount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	fee, err := parseOptionalAmount(req.Fee)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.orders.PartialFill(r.Context(), id, resolver, making, req.SecretIndex, fee); err != nil {
		writeError(w, err)
		return
	}
	o, err := s.orders.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("order partially filled",
		"orderId", id,
		"resolver", hexAddr(resolver),
		"making", making.String(),
	)
	writeJSON(w, http.StatusOK, renderOrder(o, s.orders.Now()))
}
