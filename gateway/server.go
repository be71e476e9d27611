package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fusiond/core/events"
	"fusiond/gateway/middleware"
	"fusiond/native/coordination"
	"fusiond/native/escrow"
	"fusiond/native/order"
)

// Server exposes the order book and swap coordination engines over HTTP.
type Server struct {
	orders   *order.Engine
	escrows  *escrow.Engine
	swaps    *coordination.Engine
	recorder *events.Recorder
	logger   *slog.Logger
}

// Config carries the dependencies required to build a Server.
type Config struct {
	Orders   *order.Engine
	Escrows  *escrow.Engine
	Swaps    *coordination.Engine
	Recorder *events.Recorder
	Logger   *slog.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orders:   cfg.Orders,
		escrows:  cfg.Escrows,
		swaps:    cfg.Swaps,
		recorder: cfg.Recorder,
		logger:   logger,
	}
}

// Router assembles the HTTP handler tree.
func (s *Server) Router() http.Handler {
	obs := middleware.NewObservability("fusiond-gateway")

	r := chi.NewRouter()
	r.Use(middleware.CORS(middleware.CORSConfig{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/orders", func(or chi.Router) {
			or.Use(obs.Middleware("orders"))
			or.Post("/", s.handleCreateOrder)
			or.Get("/", s.handleListOrders)
			or.Get("/stats", s.handleOrderStats)
			or.Get("/{id}", s.handleGetOrder)
			or.Get("/{id}/quote", s.handleOrderQuote)
			or.Post("/{id}/cancel", s.handleCancelOrder)
			or.Post("/{id}/fill", s.handleFillOrder)
			or.Post("/{id}/partial-fill", s.handlePartialFill)
		})
		v1.Route("/swaps", func(sw chi.Router) {
			sw.Use(obs.Middleware("swaps"))
			sw.Post("/", s.handleBeginSwap)
			sw.Get("/", s.handleListSwaps)
			sw.Get("/{id}", s.handleGetSwap)
			sw.Get("/{id}/timelocks", s.handleSwapTimelocks)
			sw.Post("/{id}/fund", s.handleFundLeg)
			sw.Post("/{id}/secret", s.handleRevealSecret)
			sw.Post("/{id}/partition", s.handleRecordPartition)
		})
		v1.Route("/escrows", func(er chi.Router) {
			er.Use(obs.Middleware("escrows"))
			er.Post("/", s.handleCreateEscrow)
			er.Get("/", s.handleListEscrows)
			er.Get("/{id}", s.handleGetEscrow)
			er.Post("/{id}/fund", s.handleFundEscrow)
			er.Post("/{id}/claim", s.handleClaimEscrow)
			er.Post("/{id}/refund", s.handleRefundEscrow)
		})
		v1.With(obs.Middleware("events")).Get("/events", s.handleRecentEvents)
		v1.With(obs.Middleware("signer")).Get("/signer/health", s.handleSignerHealth)
	})

	return r
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, http.StatusOK, []*events.Event{})
		return
	}
	writeJSON(w, http.StatusOK, s.recorder.Events())
}

func (s *Server) handleSignerHealth(w http.ResponseWriter, r *http.Request) {
	report := s.swaps.HealthCheck(r.Context())
	writeJSON(w, http.StatusOK, report)
}
