// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hgraven/wavegate/internal/radio"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func payloadWith(stations ...radio.Station) *radio.StationsPayload {
	return &radio.StationsPayload{
		SchemaVersion: radio.SchemaVersion,
		UpdatedAt:     "2026-08-24T10:00:00Z",
		Source:        "https://mirror.example/json/stations",
		Requests:      []string{"https://mirror.example/json/stations?hidebroken=true"},
		Total:         len(stations),
		Fingerprint:   radio.Fingerprint(stations),
		Stations:      stations,
	}
}

func sampleStations() []radio.Station {
	return []radio.Station{
		{ID: "a", Name: "Alpha", StreamURL: "https://s.example/a", Country: "Germany", CountryCode: "DE", Languages: []string{"german"}, Tags: []string{"pop"}, IsOnline: true},
		{ID: "b", Name: "Beta", StreamURL: "https://s.example/b", Country: "France", CountryCode: "FR", Languages: []string{"french"}, Tags: []string{"jazz"}, IsOnline: true},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := payloadWith(sampleStations()...)

	changed, err := s.Save(ctx, p)
	require.NoError(t, err)
	require.True(t, changed)

	got, ok, err := s.LoadCurrent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, cmp.Diff(p, got))
	// Catalog order survives the round trip.
	require.Equal(t, "a", got.Stations[0].ID)
	require.Equal(t, "b", got.Stations[1].ID)
}

func TestLoadCurrentEmpty(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.LoadCurrent(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveIdempotentOnFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := payloadWith(sampleStations()...)
	changed, err := s.Save(ctx, first)
	require.NoError(t, err)
	require.True(t, changed)

	// Identical content, newer timestamp: only updated_at moves.
	second := payloadWith(sampleStations()...)
	second.UpdatedAt = "2026-08-24T11:00:00Z"
	changed, err = s.Save(ctx, second)
	require.NoError(t, err)
	require.False(t, changed)

	count, err := s.PayloadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, ok, err := s.LoadCurrent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-08-24T11:00:00Z", got.UpdatedAt)
	require.Equal(t, first.Fingerprint, got.Fingerprint)
}

func TestSaveSwapDeletesOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	changed, err := s.Save(ctx, payloadWith(sampleStations()...))
	require.NoError(t, err)
	require.True(t, changed)

	replacement := payloadWith(radio.Station{
		ID: "c", Name: "Gamma", StreamURL: "https://s.example/c", IsOnline: true,
	})
	changed, err = s.Save(ctx, replacement)
	require.NoError(t, err)
	require.True(t, changed)

	count, err := s.PayloadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, ok, err := s.LoadCurrent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Stations, 1)
	require.Equal(t, "c", got.Stations[0].ID)
}

func TestSaveLargePayloadBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stations := make([]radio.Station, 450)
	for i := range stations {
		stations[i] = radio.Station{
			ID:        string(rune('a'+i%26)) + "-" + string(rune('0'+i/26%10)) + "-" + string(rune('0'+i%10)),
			Name:      "Station",
			StreamURL: "https://s.example/x",
			IsOnline:  true,
		}
	}
	// Make ids unique in a readable way.
	for i := range stations {
		stations[i].ID = stations[i].ID + "-" + stations[i].Name + "-" + itoa(i)
	}

	changed, err := s.Save(ctx, payloadWith(stations...))
	require.NoError(t, err)
	require.True(t, changed)

	got, ok, err := s.LoadCurrent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Stations, len(stations))
	require.Equal(t, stations[449].ID, got.Stations[449].ID)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
