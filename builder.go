package authgate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/edelzer/authgate/internal/audit"
	"github.com/edelzer/authgate/internal/logging"
	"github.com/edelzer/authgate/internal/rate"
	"github.com/edelzer/authgate/jwt"
	"github.com/edelzer/authgate/session"
	"github.com/edelzer/authgate/store"
	"github.com/edelzer/authgate/token"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Builder assembles an [Engine]. Each Builder builds at most one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  *store.Store

	logger         *slog.Logger
	accounts       AccountProvider
	auditSink      AuditSink
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis wraps client in a [store.Store]. The caller keeps ownership of
// client. Ignored when [Builder.WithStore] is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore shares an existing store with the engine.
func (b *Builder) WithStore(st *store.Store) *Builder {
	b.store = st
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAccountProvider enables account-state checks in the authorization stage.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

// WithAuditSink sets where audit events go and enables the dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithTracerProvider enables gate spans. Defaults to a no-op provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock overrides the clock used for token, session and rate-limit time.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. It performs no I/O;
// call [Engine.Init] to verify the store before serving.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	st := b.store
	if st == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or store required")
		}
		st = store.New(b.redis)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slogger := b.logger
	if slogger == nil {
		slogger = slog.Default()
	}
	log := logging.NewSlogLogger(slogger).With("component", "authgate")

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           b.now,
	})
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewService(st, jm, cfg.tokenConfig(), log.With("subsystem", "token"))
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	sessions := session.NewStore(st, session.Config{TTL: cfg.Session.TTL, Now: b.now})

	// -------- RATE LIMITER --------
	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		rc := cfg.rateConfig()
		rc.Now = b.now
		limiter, err = rate.New(st, rc, log.With("subsystem", "rate"))
		if err != nil {
			return nil, err
		}
	}

	tp := b.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(slogger)
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		store:    st,
		tokens:   tokens,
		sessions: sessions,
		limiter:  limiter,
		accounts: b.accounts,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			OnDrop:     func(ev audit.Event) {
				log.Debug(context.Background(), "audit event dropped", "event_type", ev.EventType, "request_id", ev.RequestID)
			},
		}, sink),
		metrics: NewMetrics(cfg.Metrics),
		log:     log,
		tracer:  tp.Tracer(tracerName),
		now:     b.now,
	}
	if engine.now == nil {
		engine.now = time.Now
	}
	engine.deps = engine.flowDeps()

	b.built = true

	return engine, nil
}
