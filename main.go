package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jvhoven/mijnhost-ddns/config"
	"github.com/jvhoven/mijnhost-ddns/detector"
	"github.com/jvhoven/mijnhost-ddns/logger"
	"github.com/jvhoven/mijnhost-ddns/metrics"
	"github.com/jvhoven/mijnhost-ddns/provider"
	"github.com/jvhoven/mijnhost-ddns/provider/mijnhost"
	"github.com/jvhoven/mijnhost-ddns/reconcile"
	"github.com/jvhoven/mijnhost-ddns/state"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	if cfg.APIKey == "" {
		slog.Error("MIJNHOST_API_KEY environment variable is required")
		os.Exit(1)
	}
	if len(cfg.Domains) == 0 {
		slog.Warn("no domains configured; nothing will be reconciled until the config file lists some", "path", configPath)
	}

	m := metrics.New(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := state.Open(cfg.CachePath, m)
	if err != nil {
		slog.Error("failed to open cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	dns, err := mijnhost.New(cfg.Provider, cfg.APIKey, m)
	if err != nil {
		slog.Error("failed to initialize mijn.host client", "error", err)
		os.Exit(1)
	}
	if err := verifyCredential(ctx, dns); err != nil {
		slog.Error("mijn.host API credential rejected", "error", err)
		os.Exit(1)
	}

	det := detector.New(cfg.IPService, m)
	engine := reconcile.NewEngine(store, dns, cfg, m)
	reloader := config.NewReloader(configPath, cfg)

	server := startMetricsServer(cfg.MetricsAddr, m)

	slog.Info("starting mijnhost-ddns",
		"interval", cfg.CheckInterval.String(),
		"domains", len(cfg.Domains),
		"config", configPath)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go runLoop(ctx, wg, reloader, det, engine, m)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received")
	cancel()

	if server != nil {
		shutdownCtx, cancelServer := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelServer()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}

	wg.Wait()
	slog.Info("shutdown complete")
}

// verifyCredential treats only an auth rejection as fatal. A network problem
// at startup is logged and left for the cycles to retry.
func verifyCredential(ctx context.Context, dns provider.Provider) error {
	verifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := dns.Verify(verifyCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, provider.ErrAuth) {
		return err
	}
	slog.Warn("could not verify mijn.host API credential, continuing", "error", err)
	return nil
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return server
}

// runLoop runs reconciliation cycles on a fixed interval until ctx is
// cancelled. Cycles are serialized by construction: one runs to completion
// before the next tick is considered, so a long cycle never overlaps the
// following one.
func runLoop(ctx context.Context, wg *sync.WaitGroup, reloader *config.Reloader, det detector.Detector, engine reconcile.Engine, m *metrics.Metrics) {
	defer wg.Done()

	cfg := reloader.Current()
	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		runCycle(ctx, cfg, det, engine, m)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			slog.Info("stopping reconcile loop")
			return
		}

		if next, changed := reloader.Reload(); changed {
			if next.CheckInterval != cfg.CheckInterval {
				ticker.Reset(next.CheckInterval)
			}
			cfg = next
		}
	}
}

func runCycle(ctx context.Context, cfg *config.Config, det detector.Detector, engine reconcile.Engine, m *metrics.Metrics) {
	slog.Info("starting reconcile cycle")
	start := time.Now()
	defer func() {
		m.SetCycleDuration(time.Since(start))
	}()

	ip, err := det.Detect(ctx)
	if err != nil {
		slog.Error("public IP detection failed, skipping cycle", "error", err)
		m.IncCycleRun(false)
		return
	}

	result := engine.Reconcile(ctx, cfg.Domains, ip)

	attrs := []any{
		"ipv4", ip.V4.String(),
		"cache_hits", result.Count(reconcile.OutcomeCacheHit),
		"created", result.Count(reconcile.OutcomeCreated),
		"updated", result.Count(reconcile.OutcomeUpdated),
		"confirmed", result.Count(reconcile.OutcomeConfirmed),
		"skipped", result.Count(reconcile.OutcomeSkippedNoIP),
		"failed", result.Count(reconcile.OutcomeFailed),
	}
	if ip.V6.IsValid() {
		attrs = append(attrs, "ipv6", ip.V6.String())
	}
	slog.Info("cycle complete", attrs...)
	m.IncCycleRun(!result.Failed())
}
