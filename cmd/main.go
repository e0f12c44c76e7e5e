package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/http/api"
	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/http/site"
	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/http/swagger"
	service "github.com/AlexBiobelemo/Project-Andrew/internal/app"
	"github.com/AlexBiobelemo/Project-Andrew/internal/config"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 15 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// defaults -> optional file -> env
	cfg, err := config.Load(ctx)
	if err != nil {
		return errors.New("failed to load config: " + err.Error())
	}
	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		return errors.New("failed to initialize logging: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	engine, err := service.New(ctx, cfg, service.WithLogger(log.Named("engine")))
	if err != nil {
		return errors.New("failed to build engine: " + err.Error())
	}
	if err := engine.Start(ctx); err != nil {
		return errors.New("failed to start engine: " + err.Error())
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := engine.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "engine shutdown failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, engine)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, cfg, engine, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return errors.New("HTTP server failed: " + err.Error())
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}

// newMux registers the docs, the board page and the API.
func newMux(ctx context.Context, cfg *config.Config, engine *service.Engine, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	site.Register(ctx, mux)
	api.NewServer(engine, engine,
		api.WithMaxTopLimit(cfg.MaxTopLimit),
		api.WithTrustProxyHeaders(cfg.TrustProxyHeaders),
		api.WithLogger(log.Named("api")),
	).Register(mux)
	return mux
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes engine gauges until ctx ends.
func startServiceMetricsUpdater(ctx context.Context, engine api.StatsProvider) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(engine)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics copies the queue and pool figures; GetStats updates
// the issue gauges itself.
func updateServiceMetrics(engine api.StatsProvider) {
	stats := engine.GetStats()
	if n, ok := stats["queue_length"].(int); ok {
		metrics.UpdateQueueSize(n)
	}
	if n, ok := stats["workers"].(int); ok {
		metrics.UpdateWorkerCount(n)
	}
	if n, ok := stats["geo_indexed"].(int); ok {
		metrics.UpdateGeoIndexSize(n)
	}
}
