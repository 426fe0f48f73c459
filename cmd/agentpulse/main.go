package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/AgentPulse/internal/adapter/gateway"
	apnats "github.com/Strob0t/AgentPulse/internal/adapter/nats"
	apotel "github.com/Strob0t/AgentPulse/internal/adapter/otel"
	"github.com/Strob0t/AgentPulse/internal/adapter/postgres"
	"github.com/Strob0t/AgentPulse/internal/adapter/ristretto"
	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/logger"
	"github.com/Strob0t/AgentPulse/internal/port/broadcast"
	"github.com/Strob0t/AgentPulse/internal/resilience"
	"github.com/Strob0t/AgentPulse/internal/service"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"gateway", cfg.Gateway.URL,
		"transcript_dir", cfg.Transcripts.Dir,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	var pub broadcast.Publisher
	if cfg.NATS.URL != "" {
		queue, err := apnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		pub = queue
		log.Info("nats connected")
	}

	seen, err := ristretto.New(cfg.Dedup.MaxBytes)
	if err != nil {
		return fmt.Errorf("dedup cache: %w", err)
	}
	defer seen.Close()

	shutdownMetrics, err := apotel.Setup(ctx, cfg.Logging.Service, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(flushCtx)
	}()
	metrics, err := apotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Pipeline ---

	st := postgres.NewStore(pool)
	guard := service.NewGuard(seen, cfg.Dedup.TTL)
	engine := service.NewEngine(st, pub, metrics, log)
	scanner := service.NewScanner(cfg.Transcripts, service.NewTailer(cfg.Transcripts.MaxLineBytes), guard, engine, st, metrics, log)

	rpc := gateway.NewRPC(cfg.Gateway.RPCURL, cfg.Gateway.Token)
	rpc.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	poller := service.NewPoller(cfg.Poller, rpc, st, metrics, log)
	evaluator := service.NewEvaluator(cfg.Alerts, st, pub, metrics, log)
	sweeper := service.NewSweeper(cfg.Retention, st, log)

	var connected atomic.Bool
	client := gateway.NewClient(cfg.Gateway, log, scanner.HandleEvent)
	client.OnAuthenticated = func() {
		connected.Store(true)
		poller.Resume()
	}
	client.OnDisconnected = func() {
		connected.Store(false)
		poller.Pause()
		metrics.Reconnect(ctx)
	}

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))
	r.Get("/health", healthHandler(pool))
	r.Get("/status", statusHandler(start, &connected, guard))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return scanner.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return evaluator.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		log.Info("status server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("agentpulse started")
	return g.Wait()
}

func healthHandler(pool interface {
	Ping(ctx context.Context) error
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := pool.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func statusHandler(start time.Time, connected *atomic.Bool, guard *service.Guard) http.HandlerFunc {
	type status struct {
		Uptime        string `json:"uptime"`
		Gateway       string `json:"gateway"`
		LastScan      string `json:"last_scan,omitempty"`
		UnixStartedAt int64  `json:"started_at"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		s := status{
			Uptime:        time.Since(start).Round(time.Second).String(),
			Gateway:       "disconnected",
			UnixStartedAt: start.Unix(),
		}
		if connected.Load() {
			s.Gateway = "connected"
		}
		if wm := guard.Watermark(); !wm.IsZero() {
			s.LastScan = wm.Format(time.RFC3339)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(s)
	}
}
