// SPDX-License-Identifier: MIT

package radio

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hgraven/wavegate/internal/config"
	"github.com/hgraven/wavegate/internal/kvstore"
)

func newTestRadioServer(t *testing.T) *Server {
	t.Helper()
	kv := kvstore.NewMemory(time.Minute)
	t.Cleanup(func() { _ = kv.Close() })

	catalog, _ := newTestCatalog(t, directoryRows, nil, &fakePayloadStore{})
	streams := NewStreamProxy(http.DefaultClient, time.Second, zerolog.Nop())
	favorites := NewFavorites(kv, catalog, zerolog.Nop())

	cfg := config.Radio{
		Port:            8081,
		RefreshToken:    "refresh-secret",
		DefaultPageSize: 60,
		MaxPageSize:     500,
	}
	return NewServer(cfg, catalog, streams, favorites, catalog.directory, kv, zerolog.Nop())
}

func TestStationsEndpoint(t *testing.T) {
	s := newTestRadioServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/stations?country=DE", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var res QueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Items, 1)
	require.Equal(t, "s1", res.Items[0].ID)
	require.Equal(t, 2, res.Meta.Total)

	// Every served stream URL is https.
	for _, item := range res.Items {
		require.Contains(t, item.StreamURL, "https://")
	}
}

func TestStationsEndpointRejectsUnknownParams(t *testing.T) {
	s := newTestRadioServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/stations?bogus=1", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshEndpointRequiresBearer(t *testing.T) {
	s := newTestRadioServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/stations/refresh", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/stations/refresh", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest("POST", "/stations/refresh", nil)
	r.Header.Set("Authorization", "Bearer refresh-secret")
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 2, body["total"])
	require.NotEmpty(t, body["fingerprint"])
}

func TestClickEndpointAlwaysAccepts(t *testing.T) {
	s := newTestRadioServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/stations/whatever/click", nil))

	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestStreamEndpointUnknownStation(t *testing.T) {
	s := newTestRadioServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/stations/ghost/stream", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFavoritesRequireSession(t *testing.T) {
	s := newTestRadioServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/favorites", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/favorites", nil)
	r.Header.Set(HeaderGatewaySession, "abc123nonce")
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "private, no-store", w.Header().Get("Cache-Control"))
}

func TestFavoritesLifecycleOverHTTP(t *testing.T) {
	s := newTestRadioServer(t)

	do := func(method, path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, nil)
		r.Header.Set(HeaderGatewaySession, "abc123nonce")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, do("PUT", "/favorites/s1").Code)
	require.Equal(t, http.StatusNotFound, do("PUT", "/favorites/ghost").Code)

	w := do("GET", "/favorites")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Meta  map[string]int `json:"meta"`
		Items []StationView  `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, favoritesMaxSlots, body.Meta["maxSlots"])
	require.Len(t, body.Items, 1)
	require.Equal(t, "s1", body.Items[0].ID)

	require.Equal(t, http.StatusOK, do("DELETE", "/favorites/s1").Code)
	w = do("GET", "/favorites")
	var after struct {
		Items []StationView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	require.Empty(t, after.Items)
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	s := newTestRadioServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/internal/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
