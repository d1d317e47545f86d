// SPDX-License-Identifier: MIT

package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStorable(t *testing.T) {
	jsonHdr := http.Header{"Content-Type": {"application/json; charset=utf-8"}}

	require.True(t, Storable(200, jsonHdr))
	require.True(t, Storable(204, jsonHdr))
	require.False(t, Storable(301, jsonHdr))
	require.False(t, Storable(500, jsonHdr))
	require.False(t, Storable(200, http.Header{"Content-Type": {"text/html"}}))

	withCookie := http.Header{
		"Content-Type": {"application/json"},
		"Set-Cookie":   {"sid=x"},
	}
	require.False(t, Storable(200, withCookie))
}

func TestResponseCacheStripsSensitiveHeaders(t *testing.T) {
	c := NewResponseCache(nil, 10, time.Minute, zerolog.Nop())

	c.Store("radio:/stations", &CachedResponse{
		Status: 200,
		Headers: map[string][]string{
			"Content-Type":   {"application/json"},
			"Set-Cookie":     {"sid=x"},
			"Content-Length": {"42"},
		},
		Body: []byte(`{"items":[]}`),
	})

	got, ok := c.Get(context.Background(), "radio:/stations")
	require.True(t, ok)
	require.NotContains(t, got.Headers, "Set-Cookie")
	require.NotContains(t, got.Headers, "Content-Length")
	require.Equal(t, []string{"application/json"}, got.Headers["Content-Type"])
}

func TestResponseCacheEvictsByInsertionOrder(t *testing.T) {
	c := NewResponseCache(nil, 2, time.Minute, zerolog.Nop())
	for _, key := range []string{"a", "b", "c"} {
		c.Store(key, &CachedResponse{Status: 200, Headers: map[string][]string{}, Body: []byte(key)})
	}

	_, ok := c.Get(context.Background(), "a")
	require.False(t, ok)
	_, ok = c.Get(context.Background(), "b")
	require.True(t, ok)
	_, ok = c.Get(context.Background(), "c")
	require.True(t, ok)
}

func TestResponseCacheTTL(t *testing.T) {
	c := NewResponseCache(nil, 10, time.Millisecond, zerolog.Nop())
	c.Store("k", &CachedResponse{Status: 200, Headers: map[string][]string{}})

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(context.Background(), "k")
	require.False(t, ok)
}
