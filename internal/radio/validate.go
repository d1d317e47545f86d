// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hgraven/wavegate/internal/kvstore"
	"github.com/hgraven/wavegate/internal/metrics"
)

// Probe outcome reasons.
const (
	reasonNetwork          = "network"
	reasonTimeout          = "timeout"
	reasonBlockedDomain    = "blocked-domain"
	reasonInsecureRedirect = "insecure-redirect"
	reasonBadContentType   = "unexpected-content-type"
	reasonEmptyResponse    = "empty-response"
)

// validationEntry is the shared-store record for one probed stream URL.
type validationEntry struct {
	OK          bool   `json:"ok"`
	ValidatedAt int64  `json:"validatedAt"`
	Signature   string `json:"signature"`
	TTLSeconds  int    `json:"ttlSeconds"`
	FinalURL    string `json:"finalUrl,omitempty"`
	ForceHLS    bool   `json:"forceHls,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (e validationEntry) fresh(now time.Time, signature string) bool {
	if e.Signature != signature {
		return false
	}
	age := now.UnixMilli() - e.ValidatedAt
	return age >= 0 && age <= int64(e.TTLSeconds)*1000
}

// probeResult is one station's validation verdict.
type probeResult struct {
	ok       bool
	finalURL string
	forceHLS bool
	reason   string
}

// Validator probes station streams with a bounded worker pool. Results
// are cached in the shared store and in-flight probes are deduplicated
// by stream URL.
type Validator struct {
	httpc   *http.Client
	store   kvstore.Store
	timeout time.Duration
	workers int64

	successTTL time.Duration
	failureTTL time.Duration

	inflight singleflight.Group
	logger   zerolog.Logger
	now      func() time.Time
}

// NewValidator builds the validator on a shared connection pool.
func NewValidator(httpc *http.Client, store kvstore.Store, timeout time.Duration, concurrency int, logger zerolog.Logger) *Validator {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Validator{
		httpc:      httpc,
		store:      store,
		timeout:    timeout,
		workers:    int64(concurrency),
		successTTL: 6 * time.Hour,
		failureTTL: 30 * time.Minute,
		logger:     logger,
		now:        time.Now,
	}
}

func validationKey(streamURL string) string { return "radio:validate:" + streamURL }

// ValidateMany probes all stations concurrently and returns the accepted
// subset in input order, plus drop counts per reason.
func (v *Validator) ValidateMany(ctx context.Context, stations []Station) ([]Station, map[string]int, error) {
	results := make([]probeResult, len(stations))
	sem := semaphore.NewWeighted(v.workers)
	var wg sync.WaitGroup

	for i := range stations {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = v.validateOne(ctx, stations[i])
		}(i)
	}
	wg.Wait()

	// Accepted order matches input order: workers wrote fixed slots.
	accepted := make([]Station, 0, len(stations))
	reasons := make(map[string]int)
	for i, res := range results {
		if !res.ok {
			reasons[res.reason]++
			metrics.IncValidation("drop", res.reason)
			continue
		}
		metrics.IncValidation("accept", "ok")
		s := stations[i]
		if res.finalURL != "" {
			s.StreamURL = res.finalURL
		}
		if res.forceHLS {
			s.HLS = true
		}
		accepted = append(accepted, s)
	}
	return accepted, reasons, nil
}

// validateOne checks the blocklist, then the cache, then probes.
func (v *Validator) validateOne(ctx context.Context, s Station) probeResult {
	u, err := url.Parse(s.StreamURL)
	if err != nil || HostBlocked(u.Hostname()) {
		return probeResult{reason: reasonBlockedDomain}
	}

	signature := s.StreamURL + "|" + s.LastChangedAt
	if res, ok := v.cachedResult(ctx, s.StreamURL, signature); ok {
		return res
	}

	shared, err, _ := v.inflight.Do(s.StreamURL, func() (any, error) {
		res := v.probe(ctx, s.StreamURL)
		v.storeResult(ctx, s.StreamURL, signature, res)
		return res, nil
	})
	if err != nil {
		return probeResult{reason: reasonNetwork}
	}
	return shared.(probeResult)
}

func (v *Validator) cachedResult(ctx context.Context, streamURL, signature string) (probeResult, bool) {
	data, err := v.store.Get(ctx, validationKey(streamURL))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			v.logger.Warn().Err(err).Str("event", "validate.cache_read_failed").
				Msg("validation cache read failed")
		}
		metrics.IncValidationCache("miss")
		return probeResult{}, false
	}

	var entry validationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		metrics.IncValidationCache("miss")
		return probeResult{}, false
	}
	if !entry.fresh(v.now(), signature) {
		metrics.IncValidationCache("stale")
		return probeResult{}, false
	}
	if entry.OK && entry.FinalURL != "" && !strings.HasPrefix(entry.FinalURL, "https://") {
		// A cached acceptance must still point at https.
		metrics.IncValidationCache("stale")
		return probeResult{}, false
	}

	metrics.IncValidationCache("hit")
	return probeResult{ok: entry.OK, finalURL: entry.FinalURL, forceHLS: entry.ForceHLS, reason: entry.Reason}, true
}

func (v *Validator) storeResult(ctx context.Context, streamURL, signature string, res probeResult) {
	ttl := v.failureTTL
	if res.ok {
		ttl = v.successTTL
	}
	entry := validationEntry{
		OK:          res.ok,
		ValidatedAt: v.now().UnixMilli(),
		Signature:   signature,
		TTLSeconds:  int(ttl.Seconds()),
		FinalURL:    res.finalURL,
		ForceHLS:    res.forceHLS,
		Reason:      res.reason,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := v.store.Set(ctx, validationKey(streamURL), data, ttl); err != nil {
		v.logger.Warn().Err(err).Str("event", "validate.cache_write_failed").
			Msg("validation cache write failed")
	}
}

// probe issues one ranged GET and classifies the result.
func (v *Validator) probe(ctx context.Context, streamURL string) probeResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return probeResult{reason: reasonNetwork}
	}
	req.Header.Set("Range", "bytes=0-4095")
	req.Header.Set("User-Agent", directoryUserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := v.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return probeResult{reason: reasonTimeout}
		}
		return probeResult{reason: reasonNetwork}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return probeResult{reason: fmt.Sprintf("status-%d", resp.StatusCode)}
	}

	final := resp.Request.URL
	if final.Scheme != "https" {
		return probeResult{reason: reasonInsecureRedirect}
	}
	if HostBlocked(final.Hostname()) {
		return probeResult{reason: reasonBlockedDomain}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !acceptableStreamType(contentType) {
		return probeResult{reason: reasonBadContentType}
	}

	buf := make([]byte, 1)
	n, _ := io.ReadFull(resp.Body, buf)
	if n == 0 {
		return probeResult{reason: reasonEmptyResponse}
	}

	res := probeResult{ok: true, forceHLS: strings.Contains(contentType, "mpegurl")}
	if final.String() != streamURL {
		res.finalURL = final.String()
	}
	return res
}

func acceptableStreamType(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "audio/"),
		strings.HasPrefix(contentType, "video/"),
		strings.Contains(contentType, "mpegurl"),
		strings.HasPrefix(contentType, "application/octet-stream"):
		return true
	}
	return false
}
