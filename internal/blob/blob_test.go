// SPDX-License-Identifier: MIT

package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetJSON(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, s.PutJSON("stations/de.json", doc{Name: "Germany", Count: 3}))

	var got doc
	found, err := s.GetJSON("stations/de.json", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, doc{Name: "Germany", Count: 3}, got)

	found, err = s.GetJSON("stations/missing.json", &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestInvalidKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape.json", "/abs.json", "a/../../b.json"} {
		require.Error(t, s.PutJSON(key, 1), "key %q", key)
	}
}
