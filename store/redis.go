package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config describes how [Open] dials Redis.
type Config struct {
	Addrs        []string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store is the Redis-backed [ExpiringStore]. A single Store is created per process
// and passed by reference to the token, session and rate-limit components.
type Store struct {
	redis redis.UniversalClient
	owned bool
}

var _ ExpiringStore = (*Store)(nil)

// New wraps an existing client. The caller keeps ownership of client and must
// close it; [Store.Shutdown] leaves it open.
func New(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

// Open dials a new client from cfg. The returned Store owns the client and closes
// it on [Store.Shutdown].
func Open(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("store: at least one redis address is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &Store{redis: client, owned: true}, nil
}

// Init verifies connectivity and preloads the Lua scripts so the first request
// does not pay the EVAL fallback.
//
//	Performance: 1 PING + 3 SCRIPT LOAD, once per process.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.redis == nil {
		return errors.New("store: nil redis client")
	}
	if _, err := s.Ping(ctx); err != nil {
		return err
	}
	for _, script := range []*redis.Script{slidingWindowLua, escalateLua, swapRefreshLua} {
		start := time.Now()
		if err := script.Load(ctx, s.redis).Err(); err != nil {
			return newStoreError("SCRIPT LOAD", "", time.Since(start), err)
		}
	}
	return nil
}

// Shutdown releases the client when the Store owns it.
func (s *Store) Shutdown(context.Context) error {
	if s == nil || s.redis == nil || !s.owned {
		return nil
	}
	if err := s.redis.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Ping returns a point-in-time availability check and its latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), newStoreError("PING", "", time.Since(start), err)
	}
	return time.Since(start), nil
}

// SetEx stores value at key with ttl rounded up to whole seconds.
func (s *Store) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	start := time.Now()
	if err := s.redis.SetEx(ctx, key, value, time.Duration(ttlSeconds(ttl))*time.Second).Err(); err != nil {
		return newStoreError("SETEX", key, time.Since(start), err)
	}
	return nil
}

// SetExIfExists is SET key value EX ttl XX: the write happens only if key is
// still present, so a concurrent DEL is never undone.
func (s *Store) SetExIfExists(ctx context.Context, key string, ttl time.Duration, value string) (bool, error) {
	start := time.Now()
	ok, err := s.redis.SetXX(ctx, key, value, time.Duration(ttlSeconds(ttl))*time.Second).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, newStoreError("SET XX", key, time.Since(start), err)
	}
	return ok, nil
}

// Get returns the value at key. A missing key is reported with ok=false, not an error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, newStoreError("GET", key, time.Since(start), err)
	}
	return value, true, nil
}

// Del removes keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	start := time.Now()
	n, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, newStoreError("DEL", keys[0], time.Since(start), err)
	}
	return n, nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()
	if err := s.redis.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return newStoreError("ZADD", key, time.Since(start), err)
	}
	return nil
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	start := time.Now()
	n, err := s.redis.ZRemRangeByScore(ctx, key, min, max).Result()
	if err != nil {
		return 0, newStoreError("ZREMRANGEBYSCORE", key, time.Since(start), err)
	}
	return n, nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.redis.ZCard(ctx, key).Result()
	if err != nil {
		return 0, newStoreError("ZCARD", key, time.Since(start), err)
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.redis.Expire(ctx, key, time.Duration(ttlSeconds(ttl))*time.Second).Result()
	if err != nil {
		return false, newStoreError("EXPIRE", key, time.Since(start), err)
	}
	return ok, nil
}

// SlidingWindow runs the prune/count/insert group for every key in req atomically.
//
//	Performance: 1 EVALSHA regardless of key count.
func (s *Store) SlidingWindow(ctx context.Context, req WindowRequest) (WindowResult, error) {
	if len(req.Keys) == 0 {
		return WindowResult{Allowed: true, Denied: -1}, nil
	}

	now := WindowScore(req.Now)
	keys := make([]string, len(req.Keys))
	commit := "0"
	if req.Commit {
		commit = "1"
	}
	args := make([]interface{}, 0, 3+len(req.Keys)*3)
	args = append(args, req.Member, strconv.FormatInt(now, 10), commit)
	for i, k := range req.Keys {
		keys[i] = k.Key
		cutoff := now - k.Window.Milliseconds()
		args = append(args,
			"("+strconv.FormatInt(cutoff, 10),
			strconv.FormatInt(k.Limit, 10),
			strconv.FormatInt(ttlSeconds(2*k.Window), 10),
		)
	}

	start := time.Now()
	raw, err := slidingWindowLua.Run(ctx, s.redis, keys, args...).Int64Slice()
	if err != nil {
		return WindowResult{}, newStoreError("EVALSHA sliding_window", keys[0], time.Since(start), err)
	}
	if len(raw) < 2 {
		return WindowResult{}, newStoreError("EVALSHA sliding_window", keys[0], time.Since(start),
			errors.New("invalid sliding window script response"))
	}

	res := WindowResult{
		Allowed: raw[0] == 1,
		Denied:  int(raw[1]) - 1,
		Counts:  raw[2:],
	}
	return res, nil
}

// Escalate bumps the penalty level at key and returns the level it held before
// together with base multiplied by the matching tier.
//
//	Performance: 1 EVALSHA.
func (s *Store) Escalate(ctx context.Context, key string, base time.Duration, tiers []int64) (Escalation, error) {
	if len(tiers) == 0 {
		tiers = []int64{1}
	}
	args := make([]interface{}, len(tiers))
	for i, tier := range tiers {
		args[i] = strconv.FormatInt(ttlSeconds(base*time.Duration(tier)), 10)
	}

	start := time.Now()
	raw, err := escalateLua.Run(ctx, s.redis, []string{key}, args...).Int64Slice()
	if err != nil {
		return Escalation{}, newStoreError("EVALSHA escalate", key, time.Since(start), err)
	}
	if len(raw) != 2 {
		return Escalation{}, newStoreError("EVALSHA escalate", key, time.Since(start),
			errors.New("invalid escalate script response"))
	}
	return Escalation{Level: raw[0], RetryAfter: time.Duration(raw[1]) * time.Second}, nil
}

// SwapRefresh consumes req.OldKey and registers req.NewKey in one step. It
// returns false, without writing, when OldKey no longer belongs to req.Owner or
// the tombstone already exists.
//
//	Performance: 1 EVALSHA (compare-and-swap).
//	Security: two concurrent swaps of the same OldKey cannot both succeed.
func (s *Store) SwapRefresh(ctx context.Context, req SwapRequest) (bool, error) {
	start := time.Now()
	n, err := swapRefreshLua.Run(
		ctx,
		s.redis,
		[]string{req.OldKey, req.TombstoneKey, req.NewKey},
		req.Owner,
		strconv.FormatInt(ttlSeconds(req.TombstoneTTL), 10),
		strconv.FormatInt(ttlSeconds(req.NewTTL), 10),
	).Int64()
	if err != nil {
		return false, newStoreError("EVALSHA swap_refresh", req.OldKey, time.Since(start), err)
	}
	return n == 1, nil
}
