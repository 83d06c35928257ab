//go:build integration
// +build integration

package test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/edelzer/authgate"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("integration-secret-integration-secret")

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) redis.UniversalClient
}

// redisModes returns miniredis, plus a real Redis when REDIS_ADDR is set.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				mr := miniredis.RunT(t)
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = rdb.Close() })
				return rdb
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) redis.UniversalClient {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				t.Cleanup(func() {
					rdb.FlushDB(context.Background())
					_ = rdb.Close()
				})
				return rdb
			},
		})
	}
	return modes
}

func newEngine(t *testing.T, client redis.UniversalClient, mutate func(*authgate.Config), opts ...func(*authgate.Builder)) *authgate.Engine {
	t.Helper()

	cfg := authgate.DefaultConfig()
	cfg.JWT.PrivateKey = testSecret
	if mutate != nil {
		mutate(&cfg)
	}
	b := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := engine.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// stepClock is a manually advanced clock.
type stepClock struct {
	nanos atomic.Int64
}

func newStepClock(start time.Time) *stepClock {
	c := &stepClock{}
	c.nanos.Store(start.UnixNano())
	return c
}

func (c *stepClock) Now() time.Time          { return time.Unix(0, c.nanos.Load()) }
func (c *stepClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

// cmdCounter is a go-redis Hook that counts Redis commands.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

// newCountedEngine returns an engine whose client counts every command. Init
// (PING and SCRIPT LOAD) runs before the counter is reset.
func newCountedEngine(t *testing.T) (*authgate.Engine, *cmdCounter) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	counter := &cmdCounter{}
	rdb.AddHook(counter)

	engine := newEngine(t, rdb, nil)
	counter.Reset()
	return engine, counter
}
