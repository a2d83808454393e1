package adminauth

import (
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextwhatsapp/adminauth/internal/audit"
	"github.com/nextwhatsapp/adminauth/internal/guard"
	"github.com/nextwhatsapp/adminauth/internal/stores"
	"github.com/nextwhatsapp/adminauth/password"
	"github.com/nextwhatsapp/adminauth/session"
	"github.com/nextwhatsapp/adminauth/sms"
)

// Builder assembles an [Engine]. Redis, an identity store, and a session
// issuer are required; the SMS gateway defaults to a no-op and the audit
// sink to discard.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	identity IdentityStore
	gateway  sms.Gateway
	issuer   session.Issuer
	sink     AuditSink

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identity = store
	return b
}

func (b *Builder) WithSMSGateway(gateway sms.Gateway) *Builder {
	b.gateway = gateway
	return b
}

func (b *Builder) WithSessionIssuer(issuer session.Issuer) *Builder {
	b.issuer = issuer
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	fillConfigDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identity == nil {
		return nil, errors.New("identity store required")
	}
	if b.issuer == nil {
		return nil, errors.New("session issuer required")
	}

	gateway := b.gateway
	if gateway == nil {
		gateway = sms.NoOpGateway{}
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled {
		sink := b.sink
		if sink == nil {
			sink = audit.NoOpSink{}
		}
		dispatcher = audit.NewDispatcher(cfg.Audit.BufferSize, sink)
	}

	engine := &Engine{
		config:     cfg,
		redis:      b.redis,
		identity:   b.identity,
		gateway:    gateway,
		issuer:     b.issuer,
		hasher:     hasher,
		totp:       newTOTPManager(cfg.TOTP),
		guard:      guard.New(b.redis, log.Printf),
		pending:    stores.NewPendingStore(b.redis, ""),
		stepup:     stores.NewStepUpStore(b.redis, ""),
		setup:      stores.NewSetupStore(b.redis, ""),
		metrics:    NewMetrics(cfg.Metrics),
		dispatcher: dispatcher,
		now:        time.Now,
	}

	b.built = true
	return engine, nil
}
