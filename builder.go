package auth

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scottux/recipe-book-sub002/internal"
	"github.com/scottux/recipe-book-sub002/jwt"
	"github.com/scottux/recipe-book-sub002/password"
	"github.com/scottux/recipe-book-sub002/ratelimit"
	"github.com/scottux/recipe-book-sub002/totp"
)

// Builder assembles an Engine. Store, Mailer, and JWT secrets are mandatory;
// everything else defaults.
type Builder struct {
	config  Config
	store   UserStore
	mailer  Mailer
	cascade CascadeDeleter
	limiter ratelimit.Limiter
	redis   redis.UniversalClient
	sink    AuditSink
	clock   func() time.Time
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig overlays cfg on the defaults.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the credential store.
func (b *Builder) WithStore(store UserStore) *Builder {
	b.store = store
	return b
}

// WithMailer sets the outbound mail transport.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithCascade sets the owned-data deleter used by DeleteAccount. Without
// one, deletion removes only the credential record.
func (b *Builder) WithCascade(cascade CascadeDeleter) *Builder {
	b.cascade = cascade
	return b
}

// WithRedis backs the rate limiter with Redis so budgets are shared across
// instances. Ignored when WithLimiter is also set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLimiter supplies a custom limiter backend.
func (b *Builder) WithLimiter(limiter ratelimit.Limiter) *Builder {
	b.limiter = limiter
	return b
}

// WithAuditSink sets the audit event destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the engine's time source. Intended for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and returns a running engine. Call
// Engine.Close when done to stop the audit dispatcher and any owned limiter.
func (b *Builder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, fmt.Errorf("%w: store required", ErrEngineNotReady)
	}
	if b.mailer == nil {
		return nil, fmt.Errorf("%w: mailer required", ErrEngineNotReady)
	}

	cfg := mergedConfig(b.config)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	signer, err := jwt.NewManager(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	dummyHash, err := hasher.Hash("decoy-password-for-unknown-emails")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	limiter := b.limiter
	ownsLimiter := false
	switch {
	case limiter != nil:
	case b.redis != nil:
		limiter = ratelimit.NewRedis(b.redis, "auth")
	default:
		limiter = ratelimit.NewMemory(
			ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval),
			ratelimit.WithClock(clock),
		)
		ownsLimiter = true
	}

	// Pending state follows the limiter backend: shared in Redis when a
	// client is supplied, in process otherwise.
	var enroll enrollmentStore
	var challenges challengeStore
	if b.redis != nil {
		enroll = newRedisEnrollmentStore(b.redis)
		challenges = newRedisChallengeStore(b.redis)
	} else {
		enroll = newMemoryEnrollmentStore(clock)
		challenges = newMemoryChallengeStore(clock)
	}

	e := &Engine{
		config:      cfg,
		store:       b.store,
		mailer:      b.mailer,
		cascade:     b.cascade,
		limiter:     limiter,
		ownsLimiter: ownsLimiter,
		signer:      signer,
		hasher:      hasher,
		dummyHash:   dummyHash,
		totp:        totp.NewManager(cfg.TOTP.Codes),
		enroll:      enroll,
		challenges:  challenges,
		audit:       newAuditDispatcher(b.sink, cfg.Audit.BufferSize),
		metrics:     newMetrics(),
		locks:       internal.NewKeyedMutex(),
		now:         clock,
	}
	return e, nil
}
