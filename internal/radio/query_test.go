// SPDX-License-Identifier: MIT

package radio

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPayload() *StationsPayload {
	stations := []Station{
		{ID: "1", Name: "Berlin Beats", StreamURL: "https://s.example/1", Country: "Germany", CountryCode: "DE", Languages: []string{"german"}, Tags: []string{"techno", "electronic"}},
		{ID: "2", Name: "Hamburg Jazz", StreamURL: "https://s.example/2", Country: "Germany", CountryCode: "DE", Languages: []string{"german", "english"}, Tags: []string{"jazz"}},
		{ID: "3", Name: "Paris Chanson", StreamURL: "https://s.example/3", Country: "France", CountryCode: "FR", Languages: []string{"french"}, Tags: []string{"chanson", "jazz"}},
		{ID: "4", Name: "London Calling", StreamURL: "https://s.example/4", Country: "United Kingdom", CountryCode: "GB", Languages: []string{"english"}, Tags: []string{"rock"}},
	}
	return &StationsPayload{
		SchemaVersion: SchemaVersion,
		UpdatedAt:     "2026-08-24T10:00:00Z",
		Source:        "test",
		Total:         len(stations),
		Fingerprint:   Fingerprint(stations),
		Stations:      stations,
	}
}

func parseParams(t *testing.T, raw string) QueryParams {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	p, err := ParseQueryParams(values, 60, 500)
	require.NoError(t, err)
	return p
}

func TestParseQueryParamsRejectsUnknownKeys(t *testing.T) {
	values := url.Values{"countryy": {"DE"}}
	_, err := ParseQueryParams(values, 60, 500)
	require.Error(t, err)
	require.Contains(t, err.Error(), "countryy")
}

func TestParseQueryParamsLimitBoundaries(t *testing.T) {
	require.Equal(t, 60, parseParams(t, "limit=0").Limit)
	require.Equal(t, 500, parseParams(t, "limit=all").Limit)
	require.Equal(t, 500, parseParams(t, "limit=9999").Limit)
	require.Equal(t, 5, parseParams(t, "limit=5").Limit)

	_, err := ParseQueryParams(url.Values{"limit": {"five"}}, 60, 500)
	require.Error(t, err)
}

func TestParseQueryParamsOffsetWinsOverPage(t *testing.T) {
	p := parseParams(t, "limit=10&page=3&offset=7")
	require.Equal(t, 7, p.Offset)

	p = parseParams(t, "limit=10&page=3")
	require.Equal(t, 20, p.Offset)

	p = parseParams(t, "limit=10&page=0")
	require.Equal(t, 1, p.Page)
	require.Equal(t, 0, p.Offset)
}

func TestExecuteCountryFilter(t *testing.T) {
	payload := testPayload()
	idx := BuildIndex(payload)

	for _, q := range []string{"country=Germany", "country=DE", "country=de"} {
		res := Execute(payload, idx, parseParams(t, q), 500, "memory")
		require.Len(t, res.Items, 2, q)
		require.Equal(t, "1", res.Items[0].ID)
		require.Equal(t, "2", res.Items[1].ID)
		require.Equal(t, 2, res.Meta.Matches)
		require.Equal(t, 4, res.Meta.Total)
	}
}

func TestExecuteIntersection(t *testing.T) {
	payload := testPayload()
	idx := BuildIndex(payload)

	res := Execute(payload, idx, parseParams(t, "country=DE&tag=jazz"), 500, "memory")
	require.Len(t, res.Items, 1)
	require.Equal(t, "2", res.Items[0].ID)

	// Genre is an alias for a tag filter.
	res = Execute(payload, idx, parseParams(t, "genre=jazz"), 500, "memory")
	require.Len(t, res.Items, 2)

	// An empty candidate list short-circuits.
	res = Execute(payload, idx, parseParams(t, "country=DE&tag=chanson"), 500, "memory")
	require.Empty(t, res.Items)
	require.Equal(t, 0, res.Meta.Matches)
}

func TestExecuteSearch(t *testing.T) {
	payload := testPayload()
	idx := BuildIndex(payload)

	res := Execute(payload, idx, parseParams(t, "search=jazz"), 500, "memory")
	require.Len(t, res.Items, 2)

	res = Execute(payload, idx, parseParams(t, "country=FR&search=jazz"), 500, "memory")
	require.Len(t, res.Items, 1)
	require.Equal(t, "3", res.Items[0].ID)

	res = Execute(payload, idx, parseParams(t, "search=JAZZ"), 500, "memory")
	require.Len(t, res.Items, 2)
}

func TestExecutePagination(t *testing.T) {
	payload := testPayload()
	idx := BuildIndex(payload)

	res := Execute(payload, idx, parseParams(t, "limit=2"), 500, "memory")
	require.Len(t, res.Items, 2)
	require.True(t, res.Meta.HasMore)

	res = Execute(payload, idx, parseParams(t, "limit=2&page=2"), 500, "memory")
	require.Len(t, res.Items, 2)
	require.False(t, res.Meta.HasMore)
	require.Equal(t, "3", res.Items[0].ID)

	// Offset past the match count yields an empty page, not an error.
	res = Execute(payload, idx, parseParams(t, "limit=2&offset=99"), 500, "memory")
	require.Empty(t, res.Items)
	require.False(t, res.Meta.HasMore)
}

func TestExecuteMeta(t *testing.T) {
	payload := testPayload()
	idx := BuildIndex(payload)

	res := Execute(payload, idx, parseParams(t, "country=DE&limit=1"), 500, "shared")
	require.Equal(t, 4, res.Meta.Total)
	require.Equal(t, 2, res.Meta.Matches)
	require.Equal(t, 2, res.Meta.Filtered)
	require.Equal(t, "shared", res.Meta.CacheSource)
	require.Equal(t, payload.UpdatedAt, res.Meta.UpdatedAt)
	require.Equal(t, []string{"France", "Germany", "United Kingdom"}, res.Meta.Countries)
	require.Contains(t, res.Meta.Genres, "jazz")
}

func TestBuildIndexSearchTextsAligned(t *testing.T) {
	payload := testPayload()
	idx := BuildIndex(payload)

	require.Len(t, idx.searchTexts, len(payload.Stations))
	require.Contains(t, idx.searchTexts[0], "berlin beats")
	require.Contains(t, idx.searchTexts[0], "techno")
	require.Contains(t, idx.searchTexts[2], "french")
}
