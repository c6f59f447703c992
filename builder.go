package gatekeeper

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsportal/gatekeeper/featureflag"
	"github.com/zsportal/gatekeeper/internal/audit"
	"github.com/zsportal/gatekeeper/internal/guards"
	"github.com/zsportal/gatekeeper/internal/logger"
	"github.com/zsportal/gatekeeper/internal/rate"
	"github.com/zsportal/gatekeeper/internal/stores"
	"github.com/zsportal/gatekeeper/jwt"
	"github.com/zsportal/gatekeeper/password"
	"github.com/zsportal/gatekeeper/profile"
	"github.com/zsportal/gatekeeper/session"
	"github.com/zsportal/gatekeeper/stream"
)

// Builder assembles a [Gate]. Configure it once during initialization and
// call Build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	sessionProvider SessionProvider
	profiles        ProfileStore
	flags           FlagLookup
	credentials     CredentialStore
	auditSink       AuditSink
	logger          *slog.Logger
	chain           []Guard

	built bool
}

// New returns a builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs sessions, profiles, flags, credentials, verification
// challenges and rate limits with client. Explicit collaborators set with
// the other options take precedence.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionProvider replaces the Redis session store as the source of
// principals.
func (b *Builder) WithSessionProvider(p SessionProvider) *Builder {
	b.sessionProvider = p
	return b
}

// WithProfileStore replaces the Redis profile store, for example with
// pgstore.
func (b *Builder) WithProfileStore(s ProfileStore) *Builder {
	b.profiles = s
	return b
}

// WithFeatureFlags sets the flag lookup used by the entitlement stage.
func (b *Builder) WithFeatureFlags(f FlagLookup) *Builder {
	b.flags = f
	return b
}

// WithCredentialStore replaces the Redis credential store.
func (b *Builder) WithCredentialStore(c CredentialStore) *Builder {
	b.credentials = c
	return b
}

// WithAuditSink enables auditing into sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithLogger sets the structured logger. The default discards.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithChain replaces the default five-stage chain.
func (b *Builder) WithChain(chain ...Guard) *Builder {
	b.chain = append([]Guard(nil), chain...)
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the evaluation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the gate.
func (b *Builder) Build() (*Gate, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Paths = cfg.Paths.WithDefaults()

	if b.redis == nil && (b.sessionProvider == nil || b.profiles == nil) {
		return nil, errors.New("redis client or both session provider and profile store required")
	}

	g := &Gate{
		config:          cfg,
		logger:          b.logger,
		sessionProvider: b.sessionProvider,
		profiles:        b.profiles,
		flags:           b.flags,
		credentials:     b.credentials,
		streams:         make(map[string]*streamEntry),
		now:             time.Now,
	}
	if g.logger == nil {
		g.logger = logger.Discard()
	}

	// -------- REDIS-BACKED STORES --------
	if b.redis != nil {
		if len(cfg.JWT.PrivateKey) == 0 {
			return nil, errors.New("JWT PrivateKey required when sign-in is enabled")
		}
		g.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix)
		if g.sessionProvider == nil {
			sessions := g.sessions
			g.sessionProvider = SessionProviderFunc(func(key string) SessionSource {
				return sessions.Source(key)
			})
		}
		if g.profiles == nil {
			g.profiles = profile.NewRedisStore(b.redis, cfg.Profile.RedisPrefix)
		}
		if g.flags == nil {
			g.flags = featureflag.NewRedisStore(b.redis, cfg.Flags.RedisKey)
		}
		if g.credentials == nil {
			g.credentials = NewRedisCredentialStore(b.redis, cfg.Account.CredentialPrefix)
		}
		g.verifications = stores.NewEmailVerificationStore(b.redis, cfg.Verification.RedisPrefix)
		g.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:        cfg.SignIn.EnableIPThrottle,
			MaxSignInAttempts:       cfg.SignIn.MaxAttempts,
			SignInCooldown:          cfg.SignIn.Cooldown,
			MaxVerificationRequests: cfg.Verification.MaxRequests,
			VerificationWindow:      cfg.Verification.RequestWindow,
		})
	}

	// -------- CHAIN --------
	g.chain = b.chain
	if g.chain == nil {
		g.chain = guards.DefaultChain(g.flags)
	}
	if cfg.Guard.StreamLoadTimeout > 0 {
		g.streamOpts = append(g.streamOpts, stream.WithProfileLoadTimeout(cfg.Guard.StreamLoadTimeout))
	}

	// -------- PASSWORDS AND TOKENS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	g.passwordHash = ph
	if g.credentials != nil {
		// Unknown emails are verified against this hash.
		g.dummyHash, err = ph.Hash("gatekeeper-unknown-account")
		if err != nil {
			return nil, err
		}
	}

	if len(cfg.JWT.PrivateKey) > 0 {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Leeway:        cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		g.jwtManager = jm
	}

	// -------- AUDIT AND METRICS --------
	g.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	g.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return g, nil
}
