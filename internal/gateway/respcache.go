// SPDX-License-Identifier: MIT

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hgraven/wavegate/internal/kvstore"
	"github.com/hgraven/wavegate/internal/metrics"
)

// CachedResponse is the stored form of a cacheable upstream response.
// Set-Cookie and Content-Length are stripped before storage.
type CachedResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

// ResponseCache is the tiered cache for safe GETs. Tier A is a bounded
// in-process map evicted by insertion order; tier B is the optional
// shared store. Cache failures never fail the request.
type ResponseCache struct {
	mu       sync.Mutex
	entries  map[string]*localEntry
	order    []string
	maxLocal int

	shared kvstore.Store // nil when no shared store is configured
	ttl    time.Duration
	logger zerolog.Logger
}

type localEntry struct {
	resp      *CachedResponse
	expiresAt time.Time
}

// NewResponseCache builds the cache. shared may be nil.
func NewResponseCache(shared kvstore.Store, maxLocal int, ttl time.Duration, logger zerolog.Logger) *ResponseCache {
	if maxLocal <= 0 {
		maxLocal = 256
	}
	return &ResponseCache{
		entries:  make(map[string]*localEntry),
		maxLocal: maxLocal,
		shared:   shared,
		ttl:      ttl,
		logger:   logger,
	}
}

// Storable decides whether an upstream response may be cached: status in
// {200, 204}, JSON content type, and no Set-Cookie header.
func Storable(status int, header http.Header) bool {
	if status != http.StatusOK && status != http.StatusNoContent {
		return false
	}
	if header.Get("Set-Cookie") != "" {
		return false
	}
	return strings.Contains(header.Get("Content-Type"), "application/json")
}

// Get tries the shared tier first, then the local tier.
func (c *ResponseCache) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	if c.shared != nil {
		data, err := c.shared.Get(ctx, "respcache:"+key)
		switch {
		case err == nil:
			var resp CachedResponse
			if jerr := json.Unmarshal(data, &resp); jerr == nil {
				metrics.IncResponseCache("hit", "shared")
				return &resp, true
			}
		case !errors.Is(err, kvstore.ErrNotFound):
			c.logger.Warn().Err(err).Str("event", "respcache.read_failed").Str("key", key).
				Msg("shared cache read failed, treating as miss")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		metrics.IncResponseCache("miss", "local")
		return nil, false
	}
	metrics.IncResponseCache("hit", "local")
	return e.resp, true
}

// Store writes the local tier synchronously and the shared tier in the
// background. The entry's Set-Cookie and Content-Length headers are
// dropped.
func (c *ResponseCache) Store(key string, resp *CachedResponse) {
	sanitized := &CachedResponse{
		Status:  resp.Status,
		Headers: make(map[string][]string, len(resp.Headers)),
		Body:    resp.Body,
	}
	for k, v := range resp.Headers {
		switch strings.ToLower(k) {
		case "set-cookie", "content-length":
			continue
		}
		sanitized.Headers[k] = v
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
		for len(c.order) > c.maxLocal {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[key] = &localEntry{resp: sanitized, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	metrics.IncResponseCache("store", "local")

	if c.shared == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		data, err := json.Marshal(sanitized)
		if err != nil {
			return
		}
		if err := c.shared.Set(ctx, "respcache:"+key, data, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("event", "respcache.write_failed").Str("key", key).
				Msg("shared cache write failed")
			return
		}
		metrics.IncResponseCache("store", "shared")
	}()
}
