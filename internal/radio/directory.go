// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	directorySRVService = "api"
	directorySRVProto   = "tcp"
	directorySRVDomain  = "radio-browser.info"

	directoryUserAgent = "wavegate/1.0"
)

// Directory talks to the radio-browser.info mirror pool. Mirrors are
// discovered via SRV and rotated on failure.
type Directory struct {
	baseURL string
	limit   int
	httpc   *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	// lookupSRV is swappable for tests.
	lookupSRV func(ctx context.Context) ([]string, error)

	// rotation picks the starting mirror; bumped on every fetch attempt
	// so consecutive refreshes spread load deterministically.
	rotation atomic.Uint64
}

// NewDirectory builds the client around a shared keep-alive pool.
func NewDirectory(baseURL string, limit int, httpc *http.Client, logger zerolog.Logger) *Directory {
	d := &Directory{
		baseURL: baseURL,
		limit:   limit,
		httpc:   httpc,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		logger:  logger,
	}
	d.lookupSRV = d.resolveSRV
	return d
}

func (d *Directory) resolveSRV(ctx context.Context) ([]string, error) {
	var resolver net.Resolver
	_, records, err := resolver.LookupSRV(ctx, directorySRVService, directorySRVProto, directorySRVDomain)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(records))
	for _, rec := range records {
		host := rec.Target
		if len(host) > 0 && host[len(host)-1] == '.' {
			host = host[:len(host)-1]
		}
		if host != "" {
			hosts = append(hosts, "https://"+host)
		}
	}
	sort.Strings(hosts)
	return hosts, nil
}

// hosts returns the mirror pool: SRV-discovered hosts unioned with the
// configured base URL. SRV failure degrades to the base URL alone.
func (d *Directory) hosts(ctx context.Context) []string {
	discovered, err := d.lookupSRV(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Str("event", "directory.srv_failed").
			Msg("SRV discovery failed, using configured mirror only")
	}
	out := make([]string, 0, len(discovered)+1)
	seen := make(map[string]struct{}, len(discovered)+1)
	for _, h := range append(discovered, d.baseURL) {
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// FetchStations pulls the filtered catalog from the first responsive
// mirror. It fails only when every mirror fails. The returned requests
// slice records the URL that served the data.
func (d *Directory) FetchStations(ctx context.Context) ([]directoryStation, []string, error) {
	hosts := d.hosts(ctx)
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("directory: no mirrors available")
	}
	start := int(d.rotation.Add(1)-1) % len(hosts)

	var lastErr error
	for attempt := 0; attempt < len(hosts); attempt++ {
		host := hosts[(start+attempt)%len(hosts)]
		reqURL := d.stationsURL(host)

		rows, err := d.fetchFrom(ctx, reqURL)
		if err != nil {
			lastErr = err
			d.logger.Warn().Err(err).Str("event", "directory.mirror_failed").
				Str("mirror", host).Msg("mirror request failed, rotating")
			continue
		}
		return rows, []string{reqURL}, nil
	}
	return nil, nil, fmt.Errorf("directory: all %d mirrors failed: %w", len(hosts), lastErr)
}

func (d *Directory) stationsURL(host string) string {
	q := url.Values{}
	q.Set("hidebroken", "true")
	q.Set("order", "clickcount")
	q.Set("reverse", "true")
	q.Set("lastcheckok", "1")
	q.Set("ssl_error", "0")
	if d.limit > 0 {
		q.Set("limit", strconv.Itoa(d.limit))
	}
	return host + "/json/stations?" + q.Encode()
}

func (d *Directory) fetchFrom(ctx context.Context, reqURL string) ([]directoryStation, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", directoryUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("directory: %s returned %d", reqURL, resp.StatusCode)
	}

	var rows []directoryStation
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("directory: decode response: %w", err)
	}
	return rows, nil
}

// NotifyClick reports a station click to the directory. Best effort: the
// caller never observes the outcome.
func (d *Directory) NotifyClick(stationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		reqURL := d.baseURL + "/json/url/" + url.PathEscape(stationID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
		if err != nil {
			return
		}
		req.Header.Set("User-Agent", directoryUserAgent)

		resp, err := d.httpc.Do(req)
		if err != nil {
			d.logger.Debug().Err(err).Str("event", "directory.click_failed").
				Str("station", stationID).Msg("click notification failed")
			return
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
	}()
}
