package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/engine"
	"github.com/cuemby/eventcore/pkg/log"
	"github.com/cuemby/eventcore/pkg/metrics"
)

func main() {
	log.Init(log.Config{
		Level:      log.Level(envOr("LOG_LEVEL", "info")),
		JSONOutput: envOr("LOG_JSON", "true") == "true",
	})
	logger := log.WithComponent("eventcored")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	metrics.SetVersion(Version)

	e, err := engine.Open(cfg, engine.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open engine")
	}
	e.Start()
	logger.Info().Str("data_dir", cfg.DataDir).Msg("engine started")

	metricsAddr := envOr("METRICS_ADDR", "127.0.0.1:9090")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	_ = srv.Close()
	if err := e.Close(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

// Version is set via ldflags at build time.
var Version = "dev"

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
