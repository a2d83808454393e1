package adminauth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextwhatsapp/adminauth/internal/audit"
	"github.com/nextwhatsapp/adminauth/internal/guard"
	"github.com/nextwhatsapp/adminauth/internal/stores"
	"github.com/nextwhatsapp/adminauth/password"
	"github.com/nextwhatsapp/adminauth/session"
	"github.com/nextwhatsapp/adminauth/sms"
)

// Engine orchestrates admin authentication: credential verification with
// lockout, the TOTP/backup-code second factor, SMS step-up verification
// for critical actions, session issuance, and rate limiting. Build one
// with [New]; an Engine is safe for concurrent use.
type Engine struct {
	config Config

	redis    redis.UniversalClient
	identity IdentityStore
	gateway  sms.Gateway
	issuer   session.Issuer

	hasher *password.Hasher
	totp   *totpManager
	guard  *guard.Guard

	pending *stores.PendingStore
	stepup  *stores.StepUpStore
	setup   *stores.SetupStore

	metrics    *Metrics
	dispatcher *audit.Dispatcher

	now func() time.Time
}

// Config returns a copy of the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Metrics exposes the engine's counters, nil when disabled.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Close drains the audit dispatcher. The engine must not be used after.
func (e *Engine) Close() {
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
}

// CheckRate counts one request against the generic API policy. Callers
// compose the key (typically the client IP). The error is a
// [*RateLimitError] when blocked.
func (e *Engine) CheckRate(ctx context.Context, key string) error {
	d := e.guard.Check(ctx, "api:"+key, e.config.RateLimit.API)
	if !d.Allowed {
		e.metrics.Inc(MetricRateLimitHit)
		return &RateLimitError{ResetAt: d.BlockedUntil}
	}
	return nil
}

// Unblock clears the block marker for a guard key, leaving window
// counters intact. Administrative override; the key is the same string
// the guard saw, e.g. "login:alice@example.com".
func (e *Engine) Unblock(ctx context.Context, key string) error {
	if err := e.guard.Reset(ctx, key); err != nil {
		return wrapBackend(err)
	}
	e.audit(ctx, audit.Event{
		EventType: audit.TypeUnblock,
		Success:   true,
		Metadata:  map[string]string{"key": key},
	})
	return nil
}

// audit stamps the event with timestamp and request context before
// handing it to the dispatcher.
func (e *Engine) audit(ctx context.Context, event audit.Event) {
	if e.dispatcher == nil {
		return
	}
	event.Timestamp = e.now()
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	e.dispatcher.Emit(event)
}
