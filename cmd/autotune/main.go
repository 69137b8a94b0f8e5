package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rosflight/rosplane2/internal/admin"
	"github.com/rosflight/rosplane2/internal/circuitbreaker"
	"github.com/rosflight/rosplane2/internal/config"
	"github.com/rosflight/rosplane2/internal/domain/model"
	"github.com/rosflight/rosplane2/internal/gateway"
	"github.com/rosflight/rosplane2/internal/retry"
	"github.com/rosflight/rosplane2/internal/store"
	"github.com/rosflight/rosplane2/internal/store/postgres"
	"github.com/rosflight/rosplane2/internal/telemetry"
	"github.com/rosflight/rosplane2/internal/transport"
	"github.com/rosflight/rosplane2/internal/tuner"
	"github.com/rosflight/rosplane2/internal/tuner/cost"
	"github.com/rosflight/rosplane2/internal/tuner/optimizer"
)

// seedGainAttempts bounds how long startup waits for the first successful
// gain read from the autopilot.
const seedGainAttempts = 5

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting autotune",
		"target", cfg.Tuning.Target,
		"stabilize_period", cfg.Tuning.StabilizePeriod,
		"gateway_url", cfg.Gateway.URL,
		"gateway_timeout", cfg.Gateway.Timeout,
		"telemetry_transport", cfg.Telemetry.Transport,
		"max_evaluations", cfg.Optimizer.MaxEvaluations,
	)

	// Iteration history is optional; without DB_URL the tuner runs
	// memory-only.
	var history store.IterationRepository
	if cfg.DB.URL != "" {
		db, err := postgres.New(postgres.Config{
			URL:             cfg.DB.URL,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		history = postgres.NewIterationRepo(db)
		logger.Info("iteration history enabled")
	}

	bus, err := resolveTransport(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize telemetry transport", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:       cfg.Gateway.URL,
		Timeout:       cfg.Gateway.Timeout,
		ToggleRetries: cfg.Gateway.ToggleRetries,
		RetryBackoff:  cfg.Gateway.RetryBackoff,
		Breaker: circuitbreaker.Config{
			FailureLimit: cfg.Gateway.BreakerFailureLimit,
			ProbeLimit:   cfg.Gateway.BreakerProbeLimit,
			Cooldown:     cfg.Gateway.BreakerCooldown,
		},
	}, logger)
	gw.SetRateLimiter(gateway.NewRateLimiter(cfg.Gateway.RPS, cfg.Gateway.Burst, "gateway"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// The search starts from whatever gains the autopilot is flying with.
	initial, err := seedGains(ctx, gw, cfg.Tuning.Target, logger)
	if err != nil {
		logger.Error("failed to read initial gains", "error", err)
		os.Exit(1)
	}
	logger.Info("initial gains read", "gains", fmt.Sprintf("[%.5g, %.5g]", initial[0], initial[1]))

	opt := optimizer.NewNelderMead(cfg.Tuning.Target, initial, optimizer.Config{
		StepScale:      cfg.Optimizer.StepScale,
		Reflection:     cfg.Optimizer.Reflection,
		Expansion:      cfg.Optimizer.Expansion,
		Contraction:    cfg.Optimizer.Contraction,
		Shrink:         cfg.Optimizer.Shrink,
		ImprovementTol: cfg.Optimizer.ImprovementTol,
		CostTol:        cfg.Optimizer.CostTol,
		MaxEvaluations: cfg.Optimizer.MaxEvaluations,
		MinGain:        cfg.Optimizer.MinGain,
		MaxGain:        cfg.Optimizer.MaxGain,
	})

	buffer := telemetry.NewBuffer()
	intake := telemetry.NewIntake(bus, buffer, telemetry.StreamNames{
		State:    cfg.Telemetry.StateStream,
		Commands: cfg.Telemetry.CommandStream,
		Debug:    cfg.Telemetry.DebugStream,
	}, logger)

	evaluator := cost.NewISE(cost.Config{
		OvershootWeight: cfg.Cost.OvershootWeight,
		SettlingWeight:  cfg.Cost.SettlingWeight,
		SettlingBand:    cfg.Cost.SettlingBand,
	})

	session := tuner.NewSession(tuner.Config{
		Target:          cfg.Tuning.Target,
		StabilizePeriod: cfg.Tuning.StabilizePeriod,
		GatewayTimeout:  cfg.Gateway.Timeout,
	}, logger, gw, buffer, evaluator, opt, history)

	g, gCtx := errgroup.WithContext(ctx)

	session.Start(gCtx)

	g.Go(func() error {
		return intake.Run(gCtx)
	})

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, logger)
	})

	adminSrv := admin.NewServer(session, history, logger)
	g.Go(func() error {
		return runHTTPServer(gCtx, "admin", cfg.Server.AdminPort, adminSrv.Handler(), logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("autotune exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("autotune shut down gracefully")
}

func resolveTransport(cfg *config.Config, logger *slog.Logger) (transport.MessageTransport, error) {
	switch cfg.Telemetry.Transport {
	case config.TransportMemory:
		logger.Info("in-memory telemetry transport enabled")
		return transport.NewInMemoryStream(), nil
	case config.TransportRedis:
		bus, err := transport.NewRedisStream(cfg.Telemetry.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initialize redis telemetry transport: %w", err)
		}
		logger.Info("redis telemetry transport enabled", "redis_url", cfg.Telemetry.RedisURL)
		return bus, nil
	}
	return nil, fmt.Errorf("unknown telemetry transport %q", cfg.Telemetry.Transport)
}

// seedGains reads the live gains off the autopilot, retrying transient
// failures so a slow parameter service at boot does not kill the tuner.
func seedGains(ctx context.Context, gw gateway.Client, target model.TuningTarget, logger *slog.Logger) (model.GainVector, error) {
	var lastErr error
	for attempt := 1; attempt <= seedGainAttempts; attempt++ {
		gains, err := gw.ReadGains(ctx, target)
		if err == nil {
			return gains, nil
		}
		lastErr = err
		if !retry.Classify(err).IsTransient() {
			return model.GainVector{}, err
		}
		logger.Warn("initial gain read failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return model.GainVector{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return model.GainVector{}, fmt.Errorf("read initial gains: %w", lastErr)
}

func runHealthServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return runHTTPServer(ctx, "health", port, mux, logger)
}

func runHTTPServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("server started", "server", name, "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
