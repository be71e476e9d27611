package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"fusiond/config"
	"fusiond/core/events"
	"fusiond/gateway"
	"fusiond/native/coordination"
	"fusiond/native/escrow"
	"fusiond/native/htlc"
	"fusiond/native/ledger"
	"fusiond/native/order"
	"fusiond/native/signer"
	"fusiond/observability/logging"
	telemetry "fusiond/observability/otel"
	"fusiond/state"
	"fusiond/storage"
	"fusiond/storage/audit"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to fusiond configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("fusiond: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("FUSIOND_ENV"))
	if env == "" {
		env = cfg.Logging.Environment
	}
	logger := logging.Setup("fusiond", env, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "fusiond",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("fusiond: init telemetry: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(shutdownCtx)
		}()
	}

	snapshots, err := storage.OpenSnapshotStore(cfg.Snapshot.Path, cfg.Snapshot.History)
	if err != nil {
		log.Fatalf("fusiond: open snapshot store: %v", err)
	}
	defer snapshots.Close()

	store := state.NewStore()
	snap, err := snapshots.Load()
	switch {
	case err == nil:
		store.Restore(snap)
		logger.Info("state restored from snapshot", "takenAt", snap.TakenAt)
	case errors.Is(err, storage.ErrNoSnapshot):
		logger.Info("starting with fresh state")
	default:
		log.Fatalf("fusiond: load snapshot: %v", err)
	}

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		log.Fatalf("fusiond: open audit log: %v", err)
	}
	defer auditLog.Close()

	recorder := events.NewRecorder(256)
	emitter := events.NewFanout(recorder, auditLog)

	assets := cfg.Assets
	if len(assets) == 0 {
		assets = []string{"ICP", "ETH"}
	}
	registry := ledger.NewRegistry()
	for _, asset := range assets {
		if err := registry.Register(asset, ledger.NewMemory()); err != nil {
			log.Fatalf("fusiond: register ledger %s: %v", asset, err)
		}
	}

	var signingBackend *signer.Local
	if key := strings.TrimSpace(cfg.Signer.KeyHex); key != "" {
		signingBackend, err = signer.NewLocalFromHex(key)
	} else {
		signingBackend, err = signer.NewLocal()
	}
	if err != nil {
		log.Fatalf("fusiond: init signer: %v", err)
	}
	health := signer.NewHealthChecker(signingBackend)

	coordinator := htlc.NewCoordinator().WithBuffers(
		cfg.Timelocks.Finality.Duration,
		cfg.Timelocks.Coordination.Duration,
		cfg.Timelocks.Safety.Duration,
		cfg.Timelocks.MinDuration.Duration,
	)

	orders := order.NewEngine()
	orders.SetState(store)
	orders.SetLedgers(registry)
	orders.SetEmitter(emitter)
	orders.SetAllowedAssets(cfg.Assets)
	orders.SetLimits(cfg.Orders.MaxActive, cfg.Orders.MaxPerMaker)
	if cfg.Orders.RatePerMinute > 0 {
		interval := time.Minute / time.Duration(cfg.Orders.RatePerMinute)
		orders.SetRateLimit(rate.NewLimiter(rate.Every(interval), cfg.Orders.RatePerMinute))
	}
	if snap != nil && snap.OrderStats != nil {
		orders.RestoreStats(*snap.OrderStats)
	}

	escrows := escrow.NewEngine()
	escrows.SetState(store)
	escrows.SetLedgers(registry)
	escrows.SetSigner(signingBackend)
	escrows.SetEmitter(emitter)

	swaps := coordination.NewEngine()
	swaps.SetState(store)
	swaps.SetEscrows(escrows)
	swaps.SetCoordinator(coordinator)
	swaps.SetHealthChecker(health)
	swaps.SetEmitter(emitter)

	server := gateway.NewServer(gateway.Config{
		Orders:   orders,
		Escrows:  escrows,
		Swaps:    swaps,
		Recorder: recorder,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	takeSnapshot := func() *state.Snapshot {
		image := store.Snapshot()
		stats := orders.Stats()
		image.OrderStats = &stats
		return image
	}

	go runSweeper(ctx, logger, cfg.Orders.SweepInterval.Duration, orders, swaps)
	go runSnapshotter(ctx, logger, cfg.Snapshot.Interval.Duration, takeSnapshot, snapshots)
	go runHealthProbe(ctx, logger, cfg.Signer.HealthInterval.Duration, swaps)

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := snapshots.Save(takeSnapshot()); err != nil {
		logger.Error("final snapshot", "error", err)
	} else {
		logger.Info("final snapshot saved")
	}
}

func runSweeper(ctx context.Context, logger *slog.Logger, interval time.Duration, orders *order.Engine, swaps *coordination.Engine) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orders.ExpireSweep(); n > 0 {
				logger.Info("expired orders swept", "count", n)
			}
			if n := swaps.ExpireSweep(ctx); n > 0 {
				logger.Info("expired swaps settled", "count", n)
			}
		}
	}
}

func runSnapshotter(ctx context.Context, logger *slog.Logger, interval time.Duration, take func() *state.Snapshot, snapshots *storage.SnapshotStore) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := snapshots.Save(take()); err != nil {
				logger.Error("snapshot save", "error", err)
			}
		}
	}
}

func runHealthProbe(ctx context.Context, logger *slog.Logger, interval time.Duration, swaps *coordination.Engine) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := swaps.HealthCheck(ctx)
			if report.Status != signer.HealthHealthy {
				logger.Warn("signer health degraded",
					"status", string(report.Status),
					"recentFailures", report.RecentFailures,
					"detail", report.Detail,
				)
			}
		}
	}
}
