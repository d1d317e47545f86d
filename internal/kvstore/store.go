// SPDX-License-Identifier: MIT

// Package kvstore provides the shared TTL'd key-value store used for
// sessions, response caching, validation results and favorites. A Redis
// implementation is used when configured; an in-process implementation
// serves as the fallback.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a TTL'd byte-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get retrieves a value. Returns ErrNotFound when absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores a value only if the key is absent. Reports whether the
	// value was written.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Expire refreshes the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Ping checks availability.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}
