// SPDX-License-Identifier: MIT

package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hgraven/wavegate/internal/kvstore"
)

func newTestFavorites(t *testing.T, stations []Station) (*Favorites, kvstore.Store) {
	t.Helper()
	kv := kvstore.NewMemory(time.Minute)
	t.Cleanup(func() { _ = kv.Close() })

	c, _ := newTestCatalog(t, directoryRows, nil, &fakePayloadStore{})
	c.publishLocal(&StationsPayload{
		SchemaVersion: SchemaVersion,
		Total:         len(stations),
		Stations:      stations,
	}, "memory")

	return NewFavorites(kv, c, zerolog.Nop()), kv
}

func catalogStations(n int) []Station {
	out := make([]Station, n)
	for i := range out {
		out[i] = Station{
			ID:        fmt.Sprintf("st-%d", i),
			Name:      fmt.Sprintf("Station %d", i),
			StreamURL: fmt.Sprintf("https://s.example/%d", i),
		}
	}
	return out
}

func TestOwnerKey(t *testing.T) {
	fromSession, err := OwnerKey("nonce-value", "")
	require.NoError(t, err)
	require.Len(t, fromSession, 64)

	fromClient, err := OwnerKey("", "client-session-abcdef")
	require.NoError(t, err)
	require.NotEqual(t, fromSession, fromClient)

	// Client session takes precedence and must match the shape rule.
	_, err = OwnerKey("nonce", "short")
	require.ErrorIs(t, err, ErrNoFavoritesOwner)
	_, err = OwnerKey("", "")
	require.ErrorIs(t, err, ErrNoFavoritesOwner)
	_, err = OwnerKey("", "has spaces which are not allowed!")
	require.ErrorIs(t, err, ErrNoFavoritesOwner)
}

func TestFavoritesPutListDelete(t *testing.T) {
	f, _ := newTestFavorites(t, catalogStations(3))
	ctx := context.Background()
	owner, _ := OwnerKey("session-token", "")

	require.NoError(t, f.Put(ctx, owner, "st-0", -1))
	require.NoError(t, f.Put(ctx, owner, "st-2", -1))

	items, err := f.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "st-0", items[0].ID)
	require.Equal(t, "st-2", items[1].ID)

	require.NoError(t, f.Delete(ctx, owner, "st-0"))
	items, err = f.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "st-2", items[0].ID)
}

func TestFavoritesPutUnknownStation(t *testing.T) {
	f, _ := newTestFavorites(t, catalogStations(1))
	owner, _ := OwnerKey("session-token", "")

	err := f.Put(context.Background(), owner, "nope", -1)
	require.ErrorIs(t, err, ErrStationNotFound)
}

func TestFavoritesSlotLimit(t *testing.T) {
	f, _ := newTestFavorites(t, catalogStations(10))
	ctx := context.Background()
	owner, _ := OwnerKey("session-token", "")

	for i := 0; i < favoritesMaxSlots; i++ {
		require.NoError(t, f.Put(ctx, owner, fmt.Sprintf("st-%d", i), -1))
	}
	err := f.Put(ctx, owner, "st-9", -1)
	require.ErrorIs(t, err, ErrFavoritesFull)

	// Re-saving an existing favorite is always allowed.
	require.NoError(t, f.Put(ctx, owner, "st-0", -1))
}

func TestFavoritesSlotPlacement(t *testing.T) {
	f, _ := newTestFavorites(t, catalogStations(5))
	ctx := context.Background()
	owner, _ := OwnerKey("session-token", "")

	require.NoError(t, f.Put(ctx, owner, "st-0", -1))
	require.NoError(t, f.Put(ctx, owner, "st-1", -1))

	// An occupied slot is replaced.
	require.NoError(t, f.Put(ctx, owner, "st-2", 0))
	items, err := f.List(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{"st-2", "st-1"},
		[]string{items[0].ID, items[1].ID})

	// A slot past the end appends.
	require.NoError(t, f.Put(ctx, owner, "st-3", 9))
	items, err = f.List(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{"st-2", "st-1", "st-3"},
		[]string{items[0].ID, items[1].ID, items[2].ID})

	// Writing an existing station into a slot keeps stationId unique.
	require.NoError(t, f.Put(ctx, owner, "st-3", 0))
	items, err = f.List(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, []string{"st-3", "st-1"},
		[]string{items[0].ID, items[1].ID})
}

func TestFavoritesSlotWriteOnFullRecord(t *testing.T) {
	f, _ := newTestFavorites(t, catalogStations(10))
	ctx := context.Background()
	owner, _ := OwnerKey("session-token", "")

	for i := 0; i < favoritesMaxSlots; i++ {
		require.NoError(t, f.Put(ctx, owner, fmt.Sprintf("st-%d", i), -1))
	}

	// Replacing an occupied slot succeeds even when all slots are taken.
	require.NoError(t, f.Put(ctx, owner, "st-9", 2))
	items, err := f.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, favoritesMaxSlots)
	require.Equal(t, "st-9", items[2].ID)

	// A slot past the end would append, and appends still refuse a full
	// record.
	err = f.Put(ctx, owner, "st-8", 99)
	require.ErrorIs(t, err, ErrFavoritesFull)
}

func TestFavoritesListStableWithoutChanges(t *testing.T) {
	f, kv := newTestFavorites(t, catalogStations(2))
	ctx := context.Background()
	owner, _ := OwnerKey("session-token", "")

	require.NoError(t, f.Put(ctx, owner, "st-0", -1))

	first, err := f.List(ctx, owner)
	require.NoError(t, err)
	firstRaw, err := kv.Get(ctx, favoritesKey(owner))
	require.NoError(t, err)

	second, err := f.List(ctx, owner)
	require.NoError(t, err)
	secondRaw, err := kv.Get(ctx, favoritesKey(owner))
	require.NoError(t, err)

	// With no underlying station change the items and the stored record
	// are byte-identical.
	fa, _ := json.Marshal(first)
	fb, _ := json.Marshal(second)
	require.Equal(t, fa, fb)
	require.Equal(t, firstRaw, secondRaw)
}

func TestFavoritesSnapshotReconciliation(t *testing.T) {
	stations := catalogStations(2)
	f, _ := newTestFavorites(t, stations)
	ctx := context.Background()
	owner, _ := OwnerKey("session-token", "")

	require.NoError(t, f.Put(ctx, owner, "st-0", -1))

	// The station changes in the catalog; the next list rewrites the
	// stored snapshot.
	stations[0].Name = "Renamed"
	f.catalog.publishLocal(&StationsPayload{
		SchemaVersion: SchemaVersion,
		Total:         len(stations),
		Stations:      stations,
	}, "memory")

	items, err := f.List(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "Renamed", items[0].Name)

	items, err = f.List(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, "Renamed", items[0].Name)
}
