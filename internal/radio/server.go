// SPDX-License-Identifier: MIT

package radio

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hgraven/wavegate/internal/config"
	"github.com/hgraven/wavegate/internal/gateway"
	"github.com/hgraven/wavegate/internal/health"
	"github.com/hgraven/wavegate/internal/kvstore"
	"github.com/hgraven/wavegate/internal/log"
	"github.com/hgraven/wavegate/internal/metrics"
	"github.com/hgraven/wavegate/internal/openapi"
	"github.com/hgraven/wavegate/internal/version"
	"github.com/hgraven/wavegate/internal/web"
)

// HeaderGatewaySession carries the per-session nonce set by the gateway.
const HeaderGatewaySession = "X-Gateway-Session"

// HeaderClientSession lets API clients without a gateway session key
// their favorites explicitly.
const HeaderClientSession = "X-Client-Session"

// Server is the radio service HTTP surface.
type Server struct {
	cfg       config.Radio
	mux       *chi.Mux
	catalog   *Catalog
	streams   *StreamProxy
	favorites *Favorites
	directory *Directory
	health    *health.Manager
	logger    zerolog.Logger
	started   time.Time
}

// NewServer wires the radio service around an assembled catalog.
func NewServer(cfg config.Radio, catalog *Catalog, streams *StreamProxy, favorites *Favorites, directory *Directory, kv kvstore.Store, logger zerolog.Logger) *Server {
	hm := health.NewManager()
	hm.Register(health.CheckerFunc{CheckerName: "store", Fn: kv.Ping})

	s := &Server{
		cfg:       cfg,
		catalog:   catalog,
		streams:   streams,
		favorites: favorites,
		directory: directory,
		health:    hm,
		logger:    logger.With().Str("component", "radio").Logger(),
		started:   time.Now(),
	}
	s.mux = s.buildMux()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) buildMux() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(log.Middleware())
	r.Use(metrics.HTTPMiddleware())

	// Both edges share one CORS implementation.
	cors := gateway.NewCORSPolicy(s.cfg.CORSAllowOrigins)
	r.Use(cors.Middleware)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/internal/status", s.handleStatus)
	r.Get("/api/docs/json", openapi.ServeRadioJSON)
	r.Get("/docs", openapi.ServeDocs)

	r.Route("/stations", func(r chi.Router) {
		r.Get("/", s.handleStations)
		r.With(httprate.LimitByIP(4, time.Minute)).Post("/refresh", s.handleRefresh)
		r.Post("/{id}/click", s.handleClick)
		r.Get("/{id}/stream", s.handleStream)
		r.Get("/{id}/stream/segment", s.handleSegment)
	})

	r.Route("/favorites", func(r chi.Router) {
		r.Get("/", s.handleFavoritesList)
		r.Put("/{id}", s.handleFavoritesPut)
		r.Delete("/{id}", s.handleFavoritesDelete)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		web.WriteError(w, http.StatusNotFound, "Not found")
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	params, err := ParseQueryParams(r.URL.Query(), s.cfg.DefaultPageSize, s.cfg.MaxPageSize)
	if err != nil {
		web.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if params.Refresh {
		if _, err := s.catalog.Refresh(r.Context()); err != nil {
			logger := log.FromContext(r.Context())
			logger.Warn().Err(err).
				Str("event", "radio.inline_refresh_failed").
				Msg("inline refresh failed, serving previous catalog")
		}
	}

	payload, idx, source, err := s.catalog.Snapshot(r.Context())
	if err != nil {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str("event", "radio.no_catalog").Msg("no catalog available")
		web.WriteError(w, http.StatusServiceUnavailable, "Station catalog unavailable")
		return
	}

	web.WriteJSON(w, http.StatusOK, Execute(payload, idx, params, s.cfg.MaxPageSize, source))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.refreshAuthorized(r) {
		web.WriteError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	payload, err := s.catalog.Refresh(r.Context())
	if err != nil {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str("event", "radio.refresh_failed").Msg("refresh failed")
		web.WriteError(w, http.StatusBadGateway, "Refresh failed")
		return
	}

	web.WriteJSON(w, http.StatusOK, map[string]any{
		"total":       payload.Total,
		"fingerprint": payload.Fingerprint,
		"updatedAt":   payload.UpdatedAt,
	})
}

func (s *Server) refreshAuthorized(r *http.Request) bool {
	if s.cfg.RefreshToken == "" {
		// Only reachable with ALLOW_INSECURE_TRANSPORT, for local work.
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.RefreshToken)) == 1
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.directory.NotifyClick(id)
	web.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	station, ok := s.catalog.Lookup(r.Context(), chi.URLParam(r, "id"))
	if !ok || station.StreamURL == "" {
		web.WriteError(w, http.StatusNotFound, "Station not found")
		return
	}
	s.streams.ServeStream(w, r, station)
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	station, ok := s.catalog.Lookup(r.Context(), chi.URLParam(r, "id"))
	if !ok || station.StreamURL == "" {
		web.WriteError(w, http.StatusNotFound, "Station not found")
		return
	}
	s.streams.ServeSegment(w, r, station)
}

// favoritesOwner derives the storage key for the caller, or writes a 401.
func (s *Server) favoritesOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := OwnerKey(r.Header.Get(HeaderGatewaySession), r.Header.Get(HeaderClientSession))
	if err != nil {
		web.WriteError(w, http.StatusUnauthorized, "Session required")
		return "", false
	}
	return owner, true
}

func (s *Server) handleFavoritesList(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.favoritesOwner(w, r)
	if !ok {
		return
	}
	items, err := s.favorites.List(r.Context(), owner)
	if err != nil {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str("event", "radio.favorites_list_failed").Msg("favorites list failed")
		web.WriteError(w, http.StatusInternalServerError, "Favorites unavailable")
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	web.WriteJSON(w, http.StatusOK, map[string]any{
		"meta":  map[string]int{"maxSlots": favoritesMaxSlots},
		"items": items,
	})
}

func (s *Server) handleFavoritesPut(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.favoritesOwner(w, r)
	if !ok {
		return
	}

	slot := -1
	if raw := r.URL.Query().Get("slot"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			web.WriteError(w, http.StatusBadRequest, "Invalid slot")
			return
		}
		slot = n
	}

	err := s.favorites.Put(r.Context(), owner, chi.URLParam(r, "id"), slot)
	switch {
	case errors.Is(err, ErrStationNotFound):
		web.WriteError(w, http.StatusNotFound, "Station not found")
	case errors.Is(err, ErrFavoritesFull):
		web.WriteError(w, http.StatusConflict, "All favorite slots occupied")
	case err != nil:
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str("event", "radio.favorites_put_failed").Msg("favorites put failed")
		web.WriteError(w, http.StatusInternalServerError, "Favorites unavailable")
	default:
		w.Header().Set("Cache-Control", "private, no-store")
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

func (s *Server) handleFavoritesDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.favoritesOwner(w, r)
	if !ok {
		return
	}
	if err := s.favorites.Delete(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str("event", "radio.favorites_delete_failed").Msg("favorites delete failed")
		web.WriteError(w, http.StatusInternalServerError, "Favorites unavailable")
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
