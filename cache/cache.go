// Package cache stores issued tokens with an expiry so they survive
// across calls and, for the persistent variants, across processes.
//
// Every variant treats a non-positive TTL as already expired; nothing is
// ever stored without one.
package cache

//go:generate mockgen -source=cache.go -destination=../auth/mock_cache_test.go -package=auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"
)

// Cache is a key-value store with per-entry expiry.
type Cache interface {
	// Get returns the value for key. ok is false when the key is
	// missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// record is the on-disk format shared by the File and Bolt variants.
// Expire is a unix timestamp in seconds.
type record struct {
	Value  string `json:"value"`
	Expire int64  `json:"expire"`
}

// newRecord rounds a positive expiry up to the next whole second, so a
// sub-second TTL is still readable at the instant it was written.
func newRecord(value string, ttl time.Duration, now time.Time) record {
	if ttl <= 0 {
		return record{Value: value, Expire: now.Unix()}
	}

	expire := now.Add(ttl)
	sec := expire.Unix()
	if expire.Nanosecond() > 0 {
		sec++
	}

	return record{Value: value, Expire: sec}
}

// live reports whether the record is still valid at now. A record whose
// expiry is at or before now is treated as absent.
func (r record) live(now time.Time) bool {
	return r.Expire > now.Unix()
}

// hashKey returns the SHA-256 hex digest of a cache key, so arbitrary
// key text maps to a safe file or bucket key.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// DefaultDir returns the directory used when no cache is configured:
// <user cache dir>/easemob, falling back to the system temp directory.
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}

	return filepath.Join(base, "easemob")
}
