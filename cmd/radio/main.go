// SPDX-License-Identifier: MIT

// Command radio runs the station catalog service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hgraven/wavegate/internal/blob"
	"github.com/hgraven/wavegate/internal/config"
	"github.com/hgraven/wavegate/internal/kvstore"
	"github.com/hgraven/wavegate/internal/log"
	"github.com/hgraven/wavegate/internal/openapi"
	"github.com/hgraven/wavegate/internal/radio"
	"github.com/hgraven/wavegate/internal/radio/store"
	"github.com/hgraven/wavegate/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	log.Configure(log.Config{Service: "wavegate-radio"})
	logger := log.Base()

	cfg := config.RadioFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Str("event", "radio.config_invalid").Msg("configuration invalid")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := openapi.ValidateRadio(ctx); err != nil {
		logger.Error().Err(err).Str("event", "radio.openapi_invalid").Msg("embedded API document invalid")
		return 1
	}

	kv, err := openStore(cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "radio.store_unavailable").Msg("could not open shared store")
		return 1
	}
	defer func() { _ = kv.Close() }()

	var payloads radio.PayloadStore
	if cfg.StationsDBPath != "" {
		db, err := store.Open(cfg.StationsDBPath)
		if err != nil {
			logger.Error().Err(err).Str("event", "radio.db_unavailable").Msg("could not open stations database")
			return 1
		}
		defer func() { _ = db.Close() }()
		payloads = db
	}

	var blobs *blob.Store
	if cfg.StationsBlobDir != "" {
		blobs, err = blob.New(cfg.StationsBlobDir)
		if err != nil {
			logger.Error().Err(err).Str("event", "radio.blobdir_unavailable").Msg("could not open blob directory")
			return 1
		}
	}

	// One keep-alive pool serves directory fetches, validation probes
	// and stream proxying.
	httpc := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	directory := radio.NewDirectory(cfg.DirectoryBaseURL, cfg.DirectoryLimit, httpc, log.WithComponent("directory"))

	var validator *radio.Validator
	if cfg.ValidationEnabled {
		validator = radio.NewValidator(httpc, kv, cfg.ValidationTimeout, cfg.ValidationConcurrency, log.WithComponent("validator"))
	}

	catalog := radio.NewCatalog(directory, validator, payloads, blobs, kv,
		cfg.StationsCacheKey, cfg.StationsCacheTTL, log.WithComponent("catalog"))
	streams := radio.NewStreamProxy(httpc, cfg.StreamProxyTimeout, log.WithComponent("streams"))
	favorites := radio.NewFavorites(kv, catalog, log.WithComponent("favorites"))

	srv := radio.NewServer(cfg, catalog, streams, favorites, directory, kv, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "radio.listening").
			Int("port", cfg.Port).Str("version", version.Version).Msg("radio service listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("event", "radio.serve_failed").Msg("server stopped")
			return 1
		}
	case <-ctx.Done():
		logger.Info().Str("event", "radio.shutdown").Msg("signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Str("event", "radio.shutdown_forced").Msg("forced shutdown")
			_ = httpSrv.Close()
			return 1
		}
	}
	logger.Info().Str("event", "radio.stopped").Msg("radio service stopped cleanly")
	return 0
}

func openStore(cfg config.Radio) (kvstore.Store, error) {
	if cfg.RedisURL != "" {
		return kvstore.NewRedis(cfg.RedisURL, log.WithComponent("kvstore"))
	}
	logger := log.Base()
	logger.Warn().Str("event", "radio.memory_store").
		Msg("no redis configured, caches and favorites are process-local")
	return kvstore.NewMemory(time.Minute), nil
}
