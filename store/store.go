package store

import (
	"context"
	"time"
)

// ExpiringStore is the shared, key-addressed store used by every gate component.
// Single-key operations are atomic individually; the grouped operations
// (SlidingWindow, Escalate, SwapRefresh) are atomic as a whole.
type ExpiringStore interface {
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
	// SetExIfExists overwrites key only while it still exists. ok=false means
	// the key was absent and nothing was written.
	SetExIfExists(ctx context.Context, key string, ttl time.Duration, value string) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	SlidingWindow(ctx context.Context, req WindowRequest) (WindowResult, error)
	Escalate(ctx context.Context, key string, base time.Duration, tiers []int64) (Escalation, error)
	SwapRefresh(ctx context.Context, req SwapRequest) (bool, error)
}

// WindowKey is one sorted-set window evaluated by [ExpiringStore.SlidingWindow].
type WindowKey struct {
	Key    string
	Limit  int64
	Window time.Duration
}

// WindowRequest describes one atomic sliding-window evaluation over ordered keys.
//
// Every key is pruned of members scored before Now-Window and counted. The first
// key whose count reached its limit denies the request and nothing is inserted.
// When no key denies and Commit is set, Member is added to every key with score
// Now and the key TTL is refreshed to twice its window.
type WindowRequest struct {
	Keys   []WindowKey
	Now    time.Time
	Member string
	Commit bool
}

// WindowResult reports the outcome of a [WindowRequest].
type WindowResult struct {
	Allowed bool
	// Denied is the index into WindowRequest.Keys of the key that denied, or -1.
	Denied int
	// Counts holds the pre-insert count per evaluated key. When a key denied,
	// only keys up to and including it were evaluated.
	Counts []int64
}

// Escalation is the outcome of a progressive-penalty bump.
type Escalation struct {
	// Level is the escalation level before this bump (0 on the first violation).
	Level int64
	// RetryAfter is base multiplied by the tier selected for Level.
	RetryAfter time.Duration
}

// SwapRequest consumes OldKey (which must hold Owner), writes a tombstone and
// registers NewKey, all or nothing.
type SwapRequest struct {
	OldKey       string
	TombstoneKey string
	NewKey       string
	Owner        string
	TombstoneTTL time.Duration
	NewTTL       time.Duration
}

// WindowScore converts t into the sorted-set score used by sliding windows.
func WindowScore(t time.Time) int64 {
	return t.UnixMilli()
}

// ttlSeconds rounds ttl up to whole seconds with a floor of one second.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
