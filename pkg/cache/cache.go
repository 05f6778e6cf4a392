// Package cache memoizes scan results keyed by a content fingerprint.
// Values are opaque bytes: the cache never interprets what it stores, so
// a corrupt entry surfaces as a deserialization failure at the caller,
// which treats it as a miss.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/divol89/prompt-shield-solana/pkg/patterns"
)

// Store is the backend contract. Lookups never fail loudly: any backend
// error is absorbed as a miss, keeping the scan path available.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Close() error
}

// Fingerprint derives the deterministic cache key for a scan. Input is
// canonicalized first so trivial variations (case, surrounding space,
// Unicode compatibility forms) share an entry.
func Fingerprint(text, scanContext string) string {
	h := xxhash.New()
	_, _ = h.WriteString(patterns.Canonical(text))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(scanContext)
	return strconv.FormatUint(h.Sum64(), 16)
}
