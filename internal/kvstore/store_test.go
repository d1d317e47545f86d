// SPDX-License-Identifier: MIT

package kvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mem := NewMemory(0)
	t.Cleanup(func() { _ = mem.Close() })

	mr := miniredis.RunT(t)
	rs, err := NewRedis("redis://"+mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	return map[string]Store{"memory": mem, "redis": rs}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreSetNX(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.SetNX(ctx, "once", []byte("a"), time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = s.SetNX(ctx, "once", []byte("b"), time.Minute)
			require.NoError(t, err)
			require.False(t, ok)

			got, err := s.Get(ctx, "once")
			require.NoError(t, err)
			require.Equal(t, []byte("a"), got)
		})
	}
}

func TestStoreSetNXConcurrent(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			const callers = 32
			var created atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, err := s.SetNX(ctx, "race", []byte{byte(i)}, time.Minute)
					require.NoError(t, err)
					if ok {
						created.Add(1)
					}
				}(i)
			}
			wg.Wait()

			// Set-if-absent admits exactly one writer; the stored value
			// belongs to that writer.
			require.Equal(t, int64(1), created.Load())
			got, err := s.Get(ctx, "race")
			require.NoError(t, err)
			require.Len(t, got, 1)
		})
	}
}

func TestStoreExpire(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, s.Expire(ctx, "missing", time.Minute), ErrNotFound)

			require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
			require.NoError(t, s.Expire(ctx, "k", time.Hour))
		})
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(0)
	defer func() { _ = mem.Close() }()

	require.NoError(t, mem.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := mem.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}
