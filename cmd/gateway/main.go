// SPDX-License-Identifier: MIT

// Command gateway runs the client-facing API gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hgraven/wavegate/internal/config"
	"github.com/hgraven/wavegate/internal/gateway"
	"github.com/hgraven/wavegate/internal/kvstore"
	"github.com/hgraven/wavegate/internal/log"
	"github.com/hgraven/wavegate/internal/openapi"
	"github.com/hgraven/wavegate/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	log.Configure(log.Config{Service: "wavegate-gateway"})
	logger := log.Base()

	cfg := config.GatewayFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Str("event", "gateway.config_invalid").Msg("configuration invalid")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := openapi.ValidateGateway(ctx); err != nil {
		logger.Error().Err(err).Str("event", "gateway.openapi_invalid").Msg("embedded API document invalid")
		return 1
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "gateway.store_unavailable").Msg("could not open session store")
		return 1
	}
	defer func() { _ = store.Close() }()

	srv, err := gateway.New(ctx, cfg, store, logger)
	if err != nil {
		logger.Error().Err(err).Str("event", "gateway.init_failed").Msg("could not initialize gateway")
		return 1
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "gateway.listening").
			Int("port", cfg.Port).Str("version", version.Version).Msg("gateway listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("event", "gateway.serve_failed").Msg("server stopped")
			return 1
		}
	case <-ctx.Done():
		logger.Info().Str("event", "gateway.shutdown").Msg("signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Str("event", "gateway.shutdown_forced").Msg("forced shutdown")
			_ = httpSrv.Close()
			return 1
		}
	}
	logger.Info().Str("event", "gateway.stopped").Msg("gateway stopped cleanly")
	return 0
}

// openStore prefers the dedicated session Redis, then the shared Redis,
// then an in-process store suitable for single-replica deployments.
func openStore(cfg config.Gateway) (kvstore.Store, error) {
	rawURL := cfg.SessionRedisURL
	if rawURL == "" {
		rawURL = cfg.RedisURL
	}
	if rawURL != "" {
		return kvstore.NewRedis(rawURL, log.WithComponent("kvstore"))
	}
	logger := log.Base()
	logger.Warn().Str("event", "gateway.memory_store").
		Msg("no redis configured, sessions and cache are process-local")
	return kvstore.NewMemory(time.Minute), nil
}
