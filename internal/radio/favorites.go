// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/hgraven/wavegate/internal/kvstore"
)

const (
	favoritesMaxSlots = 6
	favoritesTTL      = 30 * 24 * time.Hour
	favoritesVersion  = 1
)

// clientSessionRe validates an explicit client-session key.
var clientSessionRe = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// Favorites failure kinds.
var (
	ErrFavoritesFull    = errors.New("favorites: all slots occupied")
	ErrStationNotFound  = errors.New("favorites: station not in catalog")
	ErrNoFavoritesOwner = errors.New("favorites: missing session key")
)

// FavoriteEntry is one stored slot.
type FavoriteEntry struct {
	StationID string       `json:"stationId"`
	SavedAt   int64        `json:"savedAt"`
	Snapshot  *StationView `json:"snapshot,omitempty"`
}

// FavoritesRecord is the per-session favorites document.
type FavoritesRecord struct {
	Version int             `json:"version"`
	Entries []FavoriteEntry `json:"entries"`
}

// Favorites stores per-session favorite stations in the shared store.
type Favorites struct {
	store   kvstore.Store
	catalog *Catalog
	logger  zerolog.Logger
	now     func() time.Time
}

// NewFavorites builds the store.
func NewFavorites(store kvstore.Store, catalog *Catalog, logger zerolog.Logger) *Favorites {
	return &Favorites{store: store, catalog: catalog, logger: logger, now: time.Now}
}

// OwnerKey derives the storage key from the gateway session token or an
// explicit client-session value. Tokens are hashed so raw session
// material never lands in the store's keyspace.
func OwnerKey(sessionToken, clientSession string) (string, error) {
	if clientSession != "" {
		if !clientSessionRe.MatchString(clientSession) {
			return "", ErrNoFavoritesOwner
		}
		sum := sha256.Sum256([]byte(clientSession))
		return hex.EncodeToString(sum[:]), nil
	}
	if sessionToken == "" {
		return "", ErrNoFavoritesOwner
	}
	sum := sha256.Sum256([]byte(sessionToken))
	return hex.EncodeToString(sum[:]), nil
}

func favoritesKey(owner string) string { return "radio:favorites:" + owner }

func (f *Favorites) load(ctx context.Context, owner string) (*FavoritesRecord, error) {
	data, err := f.store.Get(ctx, favoritesKey(owner))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return &FavoritesRecord{Version: favoritesVersion}, nil
		}
		return nil, fmt.Errorf("favorites: read: %w", err)
	}
	var rec FavoritesRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is replaced rather than wedging the session.
		f.logger.Warn().Err(err).Str("event", "favorites.corrupt_record").
			Msg("replacing undecodable favorites record")
		return &FavoritesRecord{Version: favoritesVersion}, nil
	}
	return &rec, nil
}

func (f *Favorites) persist(ctx context.Context, owner string, rec *FavoritesRecord) error {
	rec.Version = favoritesVersion
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("favorites: encode: %w", err)
	}
	if err := f.store.Set(ctx, favoritesKey(owner), data, favoritesTTL); err != nil {
		return fmt.Errorf("favorites: write: %w", err)
	}
	return nil
}

// List returns the owner's favorites, reconciling stored snapshots with
// the current catalog. The record is only rewritten when a snapshot
// actually changed; otherwise the TTL alone is refreshed.
func (f *Favorites) List(ctx context.Context, owner string) ([]StationView, error) {
	rec, err := f.load(ctx, owner)
	if err != nil {
		return nil, err
	}

	changed := false
	items := make([]StationView, 0, len(rec.Entries))
	for i := range rec.Entries {
		entry := &rec.Entries[i]
		if station, ok := f.catalog.Lookup(ctx, entry.StationID); ok {
			view := Project(station)
			if entry.Snapshot == nil || !reflect.DeepEqual(*entry.Snapshot, view) {
				entry.Snapshot = &view
				changed = true
			}
		}
		if entry.Snapshot != nil {
			items = append(items, *entry.Snapshot)
		}
	}

	if changed {
		if err := f.persist(ctx, owner, rec); err != nil {
			f.logger.Warn().Err(err).Str("event", "favorites.reconcile_write_failed").
				Msg("could not persist reconciled favorites")
		}
	} else if len(rec.Entries) > 0 {
		if err := f.store.Expire(ctx, favoritesKey(owner), favoritesTTL); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			f.logger.Debug().Err(err).Str("event", "favorites.ttl_refresh_failed").
				Msg("favorites TTL refresh failed")
		}
	}
	return items, nil
}

// Put saves a station into the owner's favorites. A slot within the
// current list replaces its occupant (the slot is clamped to the list
// end); a slot past the end, or no slot preference, refreshes an
// existing entry in place or appends a new one.
func (f *Favorites) Put(ctx context.Context, owner, stationID string, slot int) error {
	station, ok := f.catalog.Lookup(ctx, stationID)
	if !ok {
		return ErrStationNotFound
	}
	view := Project(station)

	rec, err := f.load(ctx, owner)
	if err != nil {
		return err
	}

	entry := FavoriteEntry{StationID: stationID, SavedAt: f.now().UnixMilli(), Snapshot: &view}

	existing := -1
	for i, e := range rec.Entries {
		if e.StationID == stationID {
			existing = i
			break
		}
	}

	switch {
	case slot >= 0 && slot < len(rec.Entries):
		// An occupied slot is overwritten; a duplicate of the station
		// elsewhere in the list is dropped to keep stationId unique.
		rec.Entries[slot] = entry
		if existing >= 0 && existing != slot {
			rec.Entries = append(rec.Entries[:existing], rec.Entries[existing+1:]...)
		}
	case existing >= 0:
		rec.Entries[existing] = entry
	default:
		if len(rec.Entries) >= favoritesMaxSlots {
			return ErrFavoritesFull
		}
		rec.Entries = append(rec.Entries, entry)
	}

	return f.persist(ctx, owner, rec)
}

// Delete removes a station. A no-op delete only refreshes the TTL.
func (f *Favorites) Delete(ctx context.Context, owner, stationID string) error {
	rec, err := f.load(ctx, owner)
	if err != nil {
		return err
	}

	kept := rec.Entries[:0:0]
	for _, e := range rec.Entries {
		if e.StationID != stationID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(rec.Entries) {
		if len(rec.Entries) > 0 {
			_ = f.store.Expire(ctx, favoritesKey(owner), favoritesTTL)
		}
		return nil
	}
	rec.Entries = kept
	return f.persist(ctx, owner, rec)
}
