// Package cache stores computed dashboard views keyed by the request that
// produced them. Entries are scoped to a generation; bumping the generation
// invalidates every entry at once without scanning keys.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
)

// ErrMiss is returned by Get when no live entry exists for a key.
var ErrMiss = errors.New("cache miss")

// ViewCache is a generation-scoped byte cache for computed views.
type ViewCache interface {
	// Get returns the value stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key for the cache's TTL.
	Set(ctx context.Context, key string, value []byte) error
	// Generation returns the current generation number.
	Generation(ctx context.Context) (int64, error)
	// Invalidate bumps the generation and returns the new value.
	Invalidate(ctx context.Context) (int64, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Key derives the cache key for a view request. The query must already be
// canonical (sorted parameters) so equivalent requests share an entry.
func Key(generation int64, view, query string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(view))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write(body)
	return strconv.FormatInt(generation, 10) + ":" + hex.EncodeToString(h.Sum(nil))
}
