package adminauth

import (
	"context"
	"errors"

	"github.com/nextwhatsapp/adminauth/internal/audit"
	"github.com/nextwhatsapp/adminauth/session"
)

// VerifySession validates a session credential. Any failure — bad
// signature, expiry, revocation, registry outage — reads as
// ErrSessionInvalid; sessions fail closed.
func (e *Engine) VerifySession(ctx context.Context, token string) (*session.Claims, error) {
	claims, err := e.issuer.Verify(ctx, token)
	if err != nil {
		e.metrics.Inc(MetricSessionVerifyFailure)
		if errors.Is(err, session.ErrInvalid) {
			return nil, ErrSessionInvalid
		}
		return nil, wrapBackend(err)
	}
	return claims, nil
}

// Logout revokes one session. Unknown or already-revoked tokens are a
// no-op so logout is idempotent.
func (e *Engine) Logout(ctx context.Context, token string) error {
	claims, err := e.issuer.Verify(ctx, token)
	if err != nil {
		// Nothing live to revoke.
		return nil
	}

	if err := e.issuer.Revoke(ctx, token); err != nil {
		return wrapBackend(err)
	}

	e.metrics.Inc(MetricSessionRevoked)
	e.audit(ctx, audit.Event{
		EventType: audit.TypeSessionRevoked,
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every live session of the user and returns how many
// were removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	removed, err := e.issuer.RevokeAll(ctx, userID)
	if err != nil {
		return 0, wrapBackend(err)
	}

	for i := 0; i < removed; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}
	e.audit(ctx, audit.Event{
		EventType: audit.TypeSessionRevoked,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"scope": "all"},
	})
	return removed, nil
}

// ActiveSessions lists the user's live sessions with the device metadata
// recorded at issue time.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]session.Session, error) {
	sessions, err := e.issuer.Active(ctx, userID)
	if err != nil {
		return nil, wrapBackend(err)
	}
	return sessions, nil
}
