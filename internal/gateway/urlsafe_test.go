// SPDX-License-Identifier: MIT

package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestURLAccepts(t *testing.T) {
	for _, raw := range []string{"/radio/stations", "/terminal/run?cmd=ls", "/radio/stations?country=DE&limit=5"} {
		u, err := ParseRequestURL(raw)
		require.NoError(t, err, raw)
		require.Equal(t, "localhost", u.Hostname())
	}
}

func TestParseRequestURLRejects(t *testing.T) {
	cases := []string{
		"",
		"http://evil.example/x",
		"HTTPS://evil.example/x",
		"javascript:alert(1)",
		"//evil.example/x",
		"/radio/\x00stations",
		"/radio\\stations",
		"/radio/\x1fstations",
	}
	for _, raw := range cases {
		_, err := ParseRequestURL(raw)
		require.ErrorIs(t, err, ErrBadURL, "raw %q", raw)
	}
}

func TestSanitizePathSuffixRejectsTraversal(t *testing.T) {
	cases := []string{
		"/../internal/status",
		"/stations/..",
		"/a//b",
		`/a\b`,
		"/%2e%2e/secret",
		"/%2E%2E/secret",
		"/%252e%252e/secret", // double-encoded, caught on second decode
		"/a%2f%2eb",
		"/a%5cb",
		"/a%2f%2fb",
	}
	for _, raw := range cases {
		_, err := SanitizePathSuffix(raw)
		require.ErrorIs(t, err, ErrBadURL, "raw %q", raw)
	}
}

func TestSanitizePathSuffixNormalizes(t *testing.T) {
	got, err := SanitizePathSuffix("/stations")
	require.NoError(t, err)
	require.Equal(t, "/stations", got)

	got, err = SanitizePathSuffix("stations/abc/stream")
	require.NoError(t, err)
	require.Equal(t, "/stations/abc/stream", got)
}
