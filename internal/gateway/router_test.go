// SPDX-License-Identifier: MIT

package gateway

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter("https://radio.internal", "https://terminal.internal", nil)
	require.NoError(t, err)
	return r
}

func TestRoutePrefixes(t *testing.T) {
	r := newTestRouter(t)

	target, suffix, ok := r.Route("/radio/stations")
	require.True(t, ok)
	require.Equal(t, "radio", target.Name)
	require.Equal(t, "/stations", suffix)

	target, suffix, ok = r.Route("/terminal/run")
	require.True(t, ok)
	require.Equal(t, "terminal", target.Name)
	require.Equal(t, "/run", suffix)

	_, _, ok = r.Route("/internal/status")
	require.False(t, ok)
	_, _, ok = r.Route("/radiox/stations")
	require.False(t, ok)
}

func TestResolvePinsHost(t *testing.T) {
	r := newTestRouter(t)
	target, _, _ := r.Route("/radio/stations")

	u, err := r.Resolve(target, "/stations", "country=DE")
	require.NoError(t, err)
	require.Equal(t, "https://radio.internal/stations?country=DE", u.String())

	// A target whose base host is not pinned must be refused.
	rogue := &Target{Name: "radio", Base: mustParse(t, "https://attacker.example")}
	_, err = r.Resolve(rogue, "/stations", "")
	require.Error(t, err)
}

func TestCacheable(t *testing.T) {
	r := newTestRouter(t)
	radio, _, _ := r.Route("/radio/stations")
	terminal, _, _ := r.Route("/terminal/run")

	require.True(t, Cacheable("GET", radio, "/stations"))
	require.True(t, Cacheable("GET", radio, "/stations/abc/stream"))
	require.False(t, Cacheable("POST", radio, "/stations"))
	require.False(t, Cacheable("GET", terminal, "/stations"))
	require.False(t, Cacheable("GET", radio, "/healthz"))
}

func TestCacheKeySortsQuery(t *testing.T) {
	a := CacheKey("radio", "/stations", "limit=5&country=DE")
	b := CacheKey("radio", "/stations", "country=DE&limit=5")
	require.Equal(t, a, b)
	require.Equal(t, "radio:/stations?country=DE&limit=5", a)

	require.Equal(t, "radio:/stations", CacheKey("radio", "/stations", ""))
}
