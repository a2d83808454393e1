package adminauth

import (
	"context"
	"errors"
	"strings"

	"github.com/nextwhatsapp/adminauth/internal/audit"
	"github.com/nextwhatsapp/adminauth/session"
)

// Login verifies an email/password pair. Accounts with a second factor
// enabled get a pending token to hand to [Engine.ConfirmSecondFactor];
// the rest get a session immediately. Wrong passwords, unknown emails,
// and passwordless accounts all return ErrInvalidCredentials so the
// response never reveals whether the email exists.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if d := e.guard.Check(ctx, "login:"+email, e.config.RateLimit.Login); !d.Allowed {
		e.metrics.Inc(MetricLoginRateLimited)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeLogin,
			Email:     email,
			Error:     "rate limited",
		})
		return nil, &RateLimitError{ResetAt: d.BlockedUntil}
	}

	acct, err := e.identity.GetByEmail(ctx, email, e.config.Credentials.Role)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metrics.Inc(MetricLoginFailure)
			e.audit(ctx, audit.Event{
				EventType: audit.TypeLogin,
				Email:     email,
				Error:     "unknown account",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, wrapBackend(err)
	}

	if !acct.Active {
		e.metrics.Inc(MetricLoginFailure)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeLogin,
			UserID:    acct.ID,
			Email:     email,
			Error:     "account disabled",
		})
		return nil, ErrAccountDisabled
	}

	// Lock check precedes the hash comparison: a locked account rejects
	// even the correct password until the window lapses.
	now := e.now()
	if acct.Locked {
		if now.Before(acct.LockedUntil) {
			e.metrics.Inc(MetricLoginLocked)
			e.audit(ctx, audit.Event{
				EventType: audit.TypeLogin,
				UserID:    acct.ID,
				Email:     email,
				Error:     "account locked",
			})
			return nil, &LockoutError{Until: acct.LockedUntil}
		}
		if err := e.identity.ClearLock(ctx, acct.ID); err != nil {
			return nil, wrapBackend(err)
		}
	}

	if acct.PasswordHash == "" {
		e.metrics.Inc(MetricLoginFailure)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeLogin,
			UserID:    acct.ID,
			Email:     email,
			Error:     "no password set",
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pass, acct.PasswordHash)
	if err != nil {
		// A hash that cannot be parsed is a data problem, not a caller
		// problem, but the caller still just sees invalid credentials.
		e.metrics.Inc(MetricLoginFailure)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeLogin,
			UserID:    acct.ID,
			Email:     email,
			Error:     "unverifiable password hash: " + err.Error(),
		})
		return nil, ErrInvalidCredentials
	}

	if !ok {
		return nil, e.recordFailedLogin(ctx, acct, email)
	}

	if err := e.identity.ResetFailedLogins(ctx, acct.ID, now, clientIPFromContext(ctx)); err != nil {
		return nil, wrapBackend(err)
	}

	if acct.TwoFactorEnabled {
		token, err := e.pending.Create(ctx, acct.ID, acct.Email, e.config.Credentials.PendingTTL)
		if err != nil {
			return nil, wrapBackend(err)
		}
		e.metrics.Inc(MetricSecondFactorRequired)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeLogin,
			UserID:    acct.ID,
			Email:     email,
			Success:   true,
			Metadata:  map[string]string{"second_factor": "required"},
		})
		return &LoginResult{
			SecondFactorRequired: true,
			PendingToken:         token,
			UserID:               acct.ID,
			Email:                acct.Email,
		}, nil
	}

	return e.issueSession(ctx, acct, audit.TypeLogin)
}

func (e *Engine) recordFailedLogin(ctx context.Context, acct *Account, email string) error {
	count, err := e.identity.IncrementFailedLogins(ctx, acct.ID)
	if err != nil {
		return wrapBackend(err)
	}

	e.metrics.Inc(MetricLoginFailure)

	if count >= e.config.Credentials.LockThreshold {
		until := e.now().Add(e.config.Credentials.LockDuration)
		if err := e.identity.SetLock(ctx, acct.ID, until); err != nil {
			return wrapBackend(err)
		}
		e.metrics.Inc(MetricLoginLocked)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeLogin,
			UserID:    acct.ID,
			Email:     email,
			Error:     "wrong password, lockout tripped",
		})
		return &LockoutError{Until: until}
	}

	e.audit(ctx, audit.Event{
		EventType: audit.TypeLogin,
		UserID:    acct.ID,
		Email:     email,
		Error:     "wrong password",
	})
	return ErrInvalidCredentials
}

// issueSession mints a session for a fully authenticated account.
func (e *Engine) issueSession(ctx context.Context, acct *Account, eventType string) (*LoginResult, error) {
	token, err := e.issuer.Issue(ctx, session.Identity{
		UserID: acct.ID,
		Email:  acct.Email,
		Role:   acct.Role,
	}, session.Metadata{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}, e.config.Session.TTL)
	if err != nil {
		return nil, wrapBackend(err)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionIssued)
	e.audit(ctx, audit.Event{
		EventType: eventType,
		UserID:    acct.ID,
		Email:     acct.Email,
		Success:   true,
	})
	e.audit(ctx, audit.Event{
		EventType: audit.TypeSessionIssued,
		UserID:    acct.ID,
		Email:     acct.Email,
		Success:   true,
	})

	return &LoginResult{
		SessionToken: token,
		UserID:       acct.ID,
		Email:        acct.Email,
	}, nil
}
