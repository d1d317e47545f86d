// SPDX-License-Identifier: MIT

package radio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeFiltersAndUpgrades(t *testing.T) {
	rows := []directoryStation{
		{StationUUID: "a", Name: "Keep HTTPS", URLResolved: "https://streams.example/a", LastCheckOK: 1},
		{StationUUID: "b", Name: "Upgrade HTTP", URLResolved: "http://streams.example/b", LastCheckOK: 1},
		{StationUUID: "c", Name: "Offline", URLResolved: "https://streams.example/c", LastCheckOK: 0},
		{StationUUID: "d", Name: "Blocked", URLResolved: "https://cdn.mediaiptv.com/d", LastCheckOK: 1},
		{StationUUID: "e", Name: "Bad scheme", URLResolved: "rtsp://streams.example/e", LastCheckOK: 1},
		{StationUUID: "", Name: "No id", URLResolved: "https://streams.example/f", LastCheckOK: 1},
		{StationUUID: "a", Name: "Duplicate", URLResolved: "https://streams.example/dup", LastCheckOK: 1},
	}

	stations := Normalize(rows)
	require.Len(t, stations, 2)
	require.Equal(t, "https://streams.example/a", stations[0].StreamURL)
	require.Equal(t, "https://streams.example/b", stations[1].StreamURL)
	for _, s := range stations {
		require.True(t, s.IsOnline)
	}
}

func TestNormalizeSplitsAndDeduplicatesLists(t *testing.T) {
	rows := []directoryStation{{
		StationUUID: "x",
		Name:        "Listy",
		URLResolved: "https://streams.example/x",
		LastCheckOK: 1,
		Language:    "german, English ,german, ",
		Tags:        "Pop,pop,Rock",
	}}

	stations := Normalize(rows)
	require.Len(t, stations, 1)
	require.Equal(t, []string{"german", "English"}, stations[0].Languages)
	require.Equal(t, []string{"Pop", "Rock"}, stations[0].Tags)
}

func TestDirectoryRowCoercesStringNumerics(t *testing.T) {
	raw := `{"stationuuid":"s1","name":"Coerce","url_resolved":"https://s.example/1",
		"lastcheckok":"1","bitrate":"128","clickcount":"4200","votes":7,"hls":"1",
		"geo_lat":"52.5","geo_long":"13.4"}`

	var row directoryStation
	require.NoError(t, json.Unmarshal([]byte(raw), &row))
	require.Equal(t, flexInt(1), row.LastCheckOK)
	require.Equal(t, flexInt(128), row.Bitrate)
	require.Equal(t, flexInt(4200), row.ClickCount)
	require.Equal(t, flexInt(7), row.Votes)

	stations := Normalize([]directoryStation{row})
	require.Len(t, stations, 1)
	require.True(t, stations[0].HLS)
	require.NotNil(t, stations[0].Coordinates)
	require.InDelta(t, 52.5, stations[0].Coordinates.Lat, 0.001)
}

func TestProjectDropsServerFieldsAndCapsTags(t *testing.T) {
	s := Station{
		ID:        "p1",
		Name:      "Projected",
		StreamURL: "https://s.example/p",
		Tags:      make([]string, 20),
		Votes:     99,
		ClickTrend: 3,
		Coordinates: &Coordinates{Lat: 1, Lon: 2},
	}
	for i := range s.Tags {
		s.Tags[i] = "tag"
	}

	view := Project(s)
	require.Len(t, view.Tags, maxProjectedTags)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	require.NotContains(t, string(data), "votes")
	require.NotContains(t, string(data), "clickTrend")
	require.NotContains(t, string(data), "coordinates")
}

func TestFingerprintIsOrderSensitive(t *testing.T) {
	a := Station{ID: "a", Name: "A", StreamURL: "https://s.example/a"}
	b := Station{ID: "b", Name: "B", StreamURL: "https://s.example/b"}

	require.Equal(t, Fingerprint([]Station{a, b}), Fingerprint([]Station{a, b}))
	require.NotEqual(t, Fingerprint([]Station{a, b}), Fingerprint([]Station{b, a}))
	require.NotEqual(t, Fingerprint([]Station{a}), Fingerprint([]Station{a, b}))
}

func TestHostBlocked(t *testing.T) {
	require.True(t, HostBlocked("mediaiptv.com"))
	require.True(t, HostBlocked("edge1.mediaiptv.com"))
	require.False(t, HostBlocked("notmediaiptv.com"))
	require.False(t, HostBlocked("streams.example"))
}
