// SPDX-License-Identifier: MIT

package gateway

import (
	"net/http"

	"github.com/hgraven/wavegate/internal/web"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	corsAllowHeaders = "authorization,content-type,x-gateway-csrf,x-gateway-csrf-proof"
	corsMaxAge       = "600"
)

// CORSPolicy decides per-origin access. A "*" entry opts into a broad,
// non-credentialed allow; explicit origins are credentialed.
type CORSPolicy struct {
	allowed  map[string]struct{}
	wildcard bool
}

// NewCORSPolicy builds a policy from the configured origin list.
func NewCORSPolicy(origins []string) *CORSPolicy {
	p := &CORSPolicy{allowed: make(map[string]struct{})}
	for _, o := range origins {
		if o == "*" {
			p.wildcard = true
			continue
		}
		p.allowed[o] = struct{}{}
	}
	return p
}

// Allowed reports whether the origin may make credentialed requests.
func (p *CORSPolicy) Allowed(origin string) bool {
	_, ok := p.allowed[origin]
	return ok
}

// apply sets the response headers for origin and reports whether the
// request may proceed. Vary: Origin is always emitted.
func (p *CORSPolicy) apply(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Add("Vary", "Origin")

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	switch {
	case p.Allowed(origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	case p.wildcard:
		// Wildcard never grants credentials.
		w.Header().Set("Access-Control-Allow-Origin", "*")
	default:
		// Disallowed origin: safe methods pass without CORS headers (the
		// browser blocks the response); state-mutating requests are refused.
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return true
		}
		return false
	}
	return true
}

// Middleware answers preflights and rejects disallowed mutating origins.
func (p *CORSPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.apply(w, r) {
			web.WriteError(w, http.StatusForbidden, "Origin not allowed")
			return
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
