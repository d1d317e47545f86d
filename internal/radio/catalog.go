// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hgraven/wavegate/internal/blob"
	"github.com/hgraven/wavegate/internal/kvstore"
	"github.com/hgraven/wavegate/internal/metrics"
)

// PayloadStore is the durable home of the catalog. Save is idempotent on
// fingerprint; LoadCurrent returns the active payload if any.
type PayloadStore interface {
	Save(ctx context.Context, p *StationsPayload) (changed bool, err error)
	LoadCurrent(ctx context.Context) (*StationsPayload, bool, error)
}

// payloadState pairs a payload with its lazily built index. The index is
// discarded with the state when the payload is replaced.
type payloadState struct {
	payload *StationsPayload
	source  string

	idxOnce sync.Once
	idx     *ProcessedIndex
}

func (st *payloadState) index() *ProcessedIndex {
	st.idxOnce.Do(func() {
		st.idx = BuildIndex(st.payload)
	})
	return st.idx
}

// Catalog owns the current payload and serializes refreshes.
type Catalog struct {
	directory *Directory
	validator *Validator // nil disables validation
	store     PayloadStore
	blobs     *blob.Store // nil disables blob publication
	kv        kvstore.Store

	cacheKey string
	cacheTTL time.Duration

	current  atomic.Pointer[payloadState]
	inflight singleflight.Group
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCatalog wires the refresh pipeline. validator and blobs may be nil.
func NewCatalog(directory *Directory, validator *Validator, store PayloadStore, blobs *blob.Store, kv kvstore.Store, cacheKey string, cacheTTL time.Duration, logger zerolog.Logger) *Catalog {
	return &Catalog{
		directory: directory,
		validator: validator,
		store:     store,
		blobs:     blobs,
		kv:        kv,
		cacheKey:  cacheKey,
		cacheTTL:  cacheTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// ErrNoCatalog is returned when no payload is available from any tier.
var ErrNoCatalog = errors.New("radio: no station catalog available")

// Snapshot returns the current payload and its index. Tiers are tried in
// order: process memory, shared store, durable store; as a last resort a
// refresh is triggered. The cacheSource names the tier that answered.
func (c *Catalog) Snapshot(ctx context.Context) (*StationsPayload, *ProcessedIndex, string, error) {
	if st := c.current.Load(); st != nil {
		return st.payload, st.index(), "memory", nil
	}

	if payload, ok := c.fromSharedCache(ctx); ok {
		st := c.publishLocal(payload, "shared")
		return st.payload, st.index(), "shared", nil
	}

	if c.store != nil {
		payload, ok, err := c.store.LoadCurrent(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", "catalog.store_read_failed").
				Msg("durable store read failed")
		} else if ok {
			payload = upgradePayload(payload)
			st := c.publishLocal(payload, "store")
			c.publishShared(payload)
			return st.payload, st.index(), "store", nil
		}
	}

	payload, err := c.Refresh(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrNoCatalog, err)
	}
	st := c.current.Load()
	if st == nil || st.payload != payload {
		st = c.publishLocal(payload, "refresh")
	}
	return st.payload, st.index(), "refresh", nil
}

// Refresh runs the pipeline. Concurrent callers share one in-flight run
// and receive the identical payload.
func (c *Catalog) Refresh(ctx context.Context) (*StationsPayload, error) {
	result, err, _ := c.inflight.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*StationsPayload), nil
}

func (c *Catalog) refresh(ctx context.Context) (*StationsPayload, error) {
	start := c.now()
	payload, err := c.buildPayload(ctx)
	if err != nil {
		metrics.ObserveRefresh(time.Since(start), "error")
		return nil, err
	}

	if c.store != nil {
		changed, err := c.store.Save(ctx, payload)
		if err != nil {
			// Persistence failures abort; the previous payload stays current.
			metrics.ObserveRefresh(time.Since(start), "error")
			return nil, fmt.Errorf("persist payload: %w", err)
		}
		if !changed {
			c.logger.Info().Str("event", "catalog.refresh_unchanged").
				Str("fingerprint", payload.Fingerprint).Msg("catalog fingerprint unchanged")
		}
	}

	if c.blobs != nil {
		if err := c.publishBlobs(ctx, payload); err != nil {
			c.logger.Warn().Err(err).Str("event", "catalog.blob_publish_failed").
				Msg("blob publication failed")
		}
	}

	st := c.publishLocal(payload, "refresh")
	c.publishShared(payload)

	// Index build runs off the request path; queries arriving before it
	// finishes fall back to building it inline.
	go st.index()

	metrics.ObserveRefresh(time.Since(start), "ok")
	metrics.SetStationsCurrent(payload.Total)
	c.logger.Info().Str("event", "catalog.refreshed").
		Int("stations", payload.Total).
		Str("fingerprint", payload.Fingerprint).
		Dur("duration", time.Since(start)).
		Msg("station catalog refreshed")
	return payload, nil
}

func (c *Catalog) buildPayload(ctx context.Context) (*StationsPayload, error) {
	rows, requests, err := c.directory.FetchStations(ctx)
	if err != nil {
		return nil, err
	}

	stations := Normalize(rows)
	if len(stations) == 0 {
		return nil, fmt.Errorf("refresh produced zero usable stations from %d rows", len(rows))
	}

	if c.validator != nil {
		accepted, reasons, err := c.validator.ValidateMany(ctx, stations)
		if err != nil {
			return nil, fmt.Errorf("validate streams: %w", err)
		}
		if len(accepted) == 0 {
			return nil, fmt.Errorf("validation dropped all %d stations", len(stations))
		}
		c.logger.Info().Str("event", "catalog.validated").
			Int("accepted", len(accepted)).
			Int("dropped", len(stations)-len(accepted)).
			Interface("reasons", reasons).
			Msg("stream validation finished")
		stations = accepted
	}

	source := "radio-browser"
	if len(requests) > 0 {
		source = requests[0]
	}
	return &StationsPayload{
		SchemaVersion: SchemaVersion,
		UpdatedAt:     c.now().UTC().Format(time.RFC3339),
		Source:        source,
		Requests:      requests,
		Total:         len(stations),
		Fingerprint:   Fingerprint(stations),
		Stations:      stations,
	}, nil
}

func (c *Catalog) publishLocal(payload *StationsPayload, source string) *payloadState {
	st := &payloadState{payload: payload, source: source}
	c.current.Store(st)
	metrics.SetStationsCurrent(payload.Total)
	return st
}

func (c *Catalog) publishShared(payload *StationsPayload) {
	if c.kv == nil || c.cacheKey == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	// A small skew margin keeps replicas from seeing a gap between local
	// expiry and shared expiry.
	ttl := c.cacheTTL + 2*time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.kv.Set(ctx, c.cacheKey, data, ttl); err != nil {
		c.logger.Warn().Err(err).Str("event", "catalog.cache_write_failed").
			Msg("shared catalog cache write failed")
	}
}

func (c *Catalog) fromSharedCache(ctx context.Context) (*StationsPayload, bool) {
	if c.kv == nil || c.cacheKey == "" {
		return nil, false
	}
	data, err := c.kv.Get(ctx, c.cacheKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn().Err(err).Str("event", "catalog.cache_read_failed").
				Msg("shared catalog cache read failed")
		}
		return nil, false
	}
	var payload StationsPayload
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Stations) == 0 {
		return nil, false
	}
	return upgradePayload(&payload), true
}

// upgradePayload rewrites older persisted payloads to the current schema.
func upgradePayload(p *StationsPayload) *StationsPayload {
	if p.SchemaVersion == SchemaVersion {
		return p
	}
	p.SchemaVersion = SchemaVersion
	p.Total = len(p.Stations)
	p.Fingerprint = Fingerprint(p.Stations)
	return p
}

const blobPublishConcurrency = 4

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func countrySlug(s Station) string {
	if s.CountryCode != "" {
		return strings.ToLower(s.CountryCode)
	}
	slug := slugRe.ReplaceAllString(strings.ToLower(s.Country), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

// publishBlobs writes the aggregate payload object and one object per
// country, bounded by a small worker pool.
func (c *Catalog) publishBlobs(ctx context.Context, payload *StationsPayload) error {
	if err := c.blobs.PutJSON("stations/payload.json", payload); err != nil {
		return err
	}

	byCountry := make(map[string][]Station)
	for _, s := range payload.Stations {
		slug := countrySlug(s)
		byCountry[slug] = append(byCountry[slug], s)
	}

	sem := semaphore.NewWeighted(blobPublishConcurrency)
	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	for slug, stations := range byCountry {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(slug string, stations []Station) {
			defer wg.Done()
			defer sem.Release(1)
			obj := map[string]any{
				"updatedAt": payload.UpdatedAt,
				"total":     len(stations),
				"stations":  stations,
			}
			if err := c.blobs.PutJSON("stations/by-country/"+slug+".json", obj); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(slug, stations)
	}
	wg.Wait()
	return firstErr
}

// Lookup finds a station by id in the current snapshot.
func (c *Catalog) Lookup(ctx context.Context, id string) (Station, bool) {
	payload, _, _, err := c.Snapshot(ctx)
	if err != nil {
		return Station{}, false
	}
	for _, s := range payload.Stations {
		if s.ID == id {
			return s, true
		}
	}
	return Station{}, false
}
