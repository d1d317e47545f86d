// SPDX-License-Identifier: MIT

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hgraven/wavegate/internal/config"
	"github.com/hgraven/wavegate/internal/health"
	"github.com/hgraven/wavegate/internal/kvstore"
	"github.com/hgraven/wavegate/internal/log"
	"github.com/hgraven/wavegate/internal/metrics"
	"github.com/hgraven/wavegate/internal/openapi"
	"github.com/hgraven/wavegate/internal/session"
	"github.com/hgraven/wavegate/internal/version"
	"github.com/hgraven/wavegate/internal/web"
)

// Server is the API gateway: it issues sessions and proxies /radio and
// /terminal to the pinned upstream services.
type Server struct {
	cfg      config.Gateway
	mux      *chi.Mux
	sessions *session.Manager
	routes   *Router
	proxy    *Proxy
	cache    *ResponseCache
	health   *health.Manager
	logger   zerolog.Logger
	started  time.Time
}

// New wires the gateway. store backs sessions and the shared cache tier;
// a memory store is acceptable for single-replica deployments.
func New(ctx context.Context, cfg config.Gateway, store kvstore.Store, logger zerolog.Logger) (*Server, error) {
	routes, err := NewRouter(cfg.RadioServiceURL, cfg.TerminalServiceURL, cfg.AllowedServiceHostnames)
	if err != nil {
		return nil, fmt.Errorf("configure router: %w", err)
	}

	component := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}

	sessions, err := session.NewManager(ctx, store, session.Config{
		Secret:     cfg.SessionSecret,
		TTL:        cfg.SessionMaxAge,
		CookieName: cfg.SessionCookieName,
	}, component("session"))
	if err != nil {
		return nil, fmt.Errorf("configure sessions: %w", err)
	}

	hm := health.NewManager()
	hm.Register(health.CheckerFunc{
		CheckerName: "store",
		Fn:          store.Ping,
	})

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		routes:   routes,
		proxy:    NewProxy(cfg.ServiceAuthToken, cfg.UpstreamTimeout, cfg.TrustProxy, component("proxy")),
		cache:    NewResponseCache(store, 256, 30*time.Second, component("respcache")),
		health:   hm,
		logger:   component("gateway"),
		started:  time.Now(),
	}
	s.mux = s.buildMux()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) buildMux() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(log.Middleware())
	r.Use(metrics.HTTPMiddleware())
	r.Use(securityHeaders)

	cors := NewCORSPolicy(s.cfg.CORSAllowOrigins)
	r.Use(cors.Middleware)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/internal/status", s.handleStatus)
	r.Get("/api/docs/json", openapi.ServeGatewayJSON)
	r.Get("/docs", openapi.ServeDocs)

	r.Route("/session", func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/", s.handleSessionNew)
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			web.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		})
	})

	// Everything else is a proxy candidate; the handler decides whether
	// the path routes to a service.
	r.NotFound(s.handleProxy)
	r.MethodNotAllowed(s.handleProxy)
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSessionNew(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Issue(r.Context())
	if err != nil {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str("event", "session.issue_failed").Msg("could not issue session")
		web.WriteError(w, http.StatusInternalServerError, "Could not create session")
		return
	}
	metrics.IncSessionsIssued()

	http.SetCookie(w, s.sessions.Cookie(sess))
	web.WriteJSON(w, http.StatusOK, map[string]any{
		"csrfToken": sess.Nonce,
		"csrfProof": sess.CSRFProof,
		"expiresAt": sess.ExpiresAt,
	})
}

// handleProxy is the catch-all: sanitize, authenticate, route, serve from
// cache or forward upstream.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	raw := r.RequestURI
	if raw == "" {
		raw = r.URL.RequestURI()
	}

	// The raw request-target is inspected before any path resolution so
	// that dot segments cannot be normalized away. A target that is not
	// even a well-formed origin-form URL is a bad request; traversal
	// inside a routed path is reported as not-found below.
	if _, err := ParseRequestURL(raw); err != nil {
		web.WriteError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	rawPath, rawQuery, _ := strings.Cut(raw, "?")

	target, rawSuffix, ok := s.routes.Route(rawPath)
	if !ok {
		web.WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	suffix, err := SanitizePathSuffix(rawSuffix)
	if err != nil {
		web.WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	if r.ContentLength > s.cfg.MaxBodyBytes {
		web.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	sess, err := s.sessions.Validate(r.Context(), r)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	http.SetCookie(w, s.sessions.Cookie(sess))
	w.Header().Set(session.HeaderCSRFProof, sess.CSRFProof)

	var cacheKey string
	if Cacheable(r.Method, target, suffix) {
		cacheKey = CacheKey(target.Name, suffix, rawQuery)
		if cached, ok := s.cache.Get(r.Context(), cacheKey); ok {
			s.writeCached(w, cached)
			return
		}
	}

	resolved, err := s.routes.Resolve(target, suffix, rawQuery)
	if err != nil {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str("event", "gateway.resolve_failed").Str("service", target.Name).
			Msg("upstream resolution refused")
		web.WriteError(w, http.StatusBadGateway, "Upstream request failed")
		return
	}

	cache := s.cache
	if cacheKey == "" {
		cache = nil
	}
	s.proxy.Forward(w, r, resolved, target.Name, sess.Nonce, cache, cacheKey)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		metrics.IncCSRFReject("no_session")
		web.WriteError(w, http.StatusUnauthorized, "Session required")
	case errors.Is(err, session.ErrExpired):
		metrics.IncCSRFReject("expired")
		web.WriteError(w, http.StatusUnauthorized, "Session expired")
	case errors.Is(err, session.ErrCSRFMismatch):
		metrics.IncCSRFReject("csrf_mismatch")
		web.WriteError(w, http.StatusForbidden, "Missing or invalid CSRF token")
	case errors.Is(err, session.ErrProofInvalid):
		metrics.IncCSRFReject("proof_invalid")
		web.WriteError(w, http.StatusForbidden, "Missing or invalid CSRF token")
	default:
		web.WriteError(w, http.StatusInternalServerError, "Session validation failed")
	}
}

func (s *Server) writeCached(w http.ResponseWriter, cached *CachedResponse) {
	header := w.Header()
	for k, vs := range cached.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set("X-Cache", "HIT")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}
