package adminauth

import (
	"context"
	"errors"

	"github.com/nextwhatsapp/adminauth/internal"
	"github.com/nextwhatsapp/adminauth/internal/audit"
	"github.com/nextwhatsapp/adminauth/internal/stores"
)

// ConfirmSecondFactor completes a login that required a second factor.
// The pending token stays valid for retries until it expires; it is
// consumed only by a successful confirmation, so exactly one session is
// issued per pending login even under concurrent submissions.
func (e *Engine) ConfirmSecondFactor(ctx context.Context, pendingToken, code string, method SecondFactorMethod) (*LoginResult, error) {
	rec, err := e.pending.Get(ctx, pendingToken)
	if err != nil {
		if errors.Is(err, stores.ErrPendingNotFound) {
			e.metrics.Inc(MetricSecondFactorFailure)
			return nil, ErrPendingInvalid
		}
		return nil, wrapBackend(err)
	}

	acct, err := e.identity.GetByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrPendingInvalid
		}
		return nil, wrapBackend(err)
	}
	if !acct.Active {
		return nil, ErrAccountDisabled
	}
	if !acct.TwoFactorEnabled {
		return nil, ErrSecondFactorNotConfigured
	}

	switch method {
	case MethodTOTP:
		ok, err := e.totp.VerifyCode(acct.TOTPSecret, code, e.now())
		if err != nil {
			return nil, wrapBackend(err)
		}
		if !ok {
			e.metrics.Inc(MetricSecondFactorFailure)
			e.audit(ctx, audit.Event{
				EventType: audit.TypeSecondFactor,
				UserID:    acct.ID,
				Email:     acct.Email,
				Error:     "totp mismatch",
			})
			return nil, ErrCodeInvalid
		}
	case MethodBackupCode:
		hash := internal.HashCode(internal.NormalizeCode(code))
		consumed, err := e.identity.ConsumeBackupCode(ctx, acct.ID, hash)
		if err != nil {
			return nil, wrapBackend(err)
		}
		if !consumed {
			e.metrics.Inc(MetricSecondFactorFailure)
			e.audit(ctx, audit.Event{
				EventType: audit.TypeSecondFactor,
				UserID:    acct.ID,
				Email:     acct.Email,
				Error:     "backup code mismatch",
			})
			return nil, ErrCodeInvalid
		}
		e.metrics.Inc(MetricBackupCodeUsed)
	default:
		return nil, ErrCodeInvalid
	}

	// Single-use from here: whoever consumes the marker issues the session.
	if _, err := e.pending.Consume(ctx, pendingToken); err != nil {
		if errors.Is(err, stores.ErrPendingNotFound) {
			return nil, ErrPendingInvalid
		}
		return nil, wrapBackend(err)
	}

	e.metrics.Inc(MetricSecondFactorSuccess)
	e.audit(ctx, audit.Event{
		EventType: audit.TypeSecondFactor,
		UserID:    acct.ID,
		Email:     acct.Email,
		Success:   true,
		Metadata:  map[string]string{"method": string(method)},
	})

	return e.issueSession(ctx, acct, audit.TypeSecondFactor)
}

// ProvisionTOTP starts second-factor enrollment. The generated secret
// lives only in the provisioning cache until [Engine.ConfirmTOTPSetup]
// sees a valid code; abandoning enrollment persists nothing.
func (e *Engine) ProvisionTOTP(ctx context.Context, userID string) (*TOTPProvision, error) {
	acct, err := e.identity.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, wrapBackend(err)
	}
	if !acct.Active {
		return nil, ErrAccountDisabled
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.setup.Save(ctx, userID, raw, e.config.TOTP.SetupTTL); err != nil {
		return nil, wrapBackend(err)
	}

	return &TOTPProvision{
		SecretBase32: encoded,
		URI:          e.totp.ProvisionURI(encoded, acct.Email),
		ExpiresAt:    e.now().Add(e.config.TOTP.SetupTTL),
	}, nil
}

// ConfirmTOTPSetup proves possession of the provisioned secret, enables
// the factor, and returns the initial set of single-use backup codes.
// The plaintext codes appear exactly once; only hashes are stored.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, userID, code string) ([]string, error) {
	secret, err := e.setup.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrSetupNotFound) {
			return nil, ErrSetupNotFound
		}
		return nil, wrapBackend(err)
	}

	ok, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return nil, wrapBackend(err)
	}
	if !ok {
		e.audit(ctx, audit.Event{
			EventType: audit.TypeTOTPSetup,
			UserID:    userID,
			Error:     "confirmation code mismatch",
		})
		return nil, ErrCodeInvalid
	}

	if err := e.identity.EnableTOTP(ctx, userID, secret); err != nil {
		return nil, wrapBackend(err)
	}
	if err := e.setup.Delete(ctx, userID); err != nil {
		return nil, wrapBackend(err)
	}

	codes, err := e.replaceBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricTOTPSetupConfirmed)
	e.audit(ctx, audit.Event{
		EventType: audit.TypeTOTPSetup,
		UserID:    userID,
		Success:   true,
	})
	return codes, nil
}

// RegenerateBackupCodes replaces the stored code set and returns the new
// plaintext codes. Previously issued codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	acct, err := e.identity.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, wrapBackend(err)
	}
	if !acct.TwoFactorEnabled {
		return nil, ErrSecondFactorNotConfigured
	}

	codes, err := e.replaceBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricBackupCodeRegenerated)
	e.audit(ctx, audit.Event{
		EventType: audit.TypeBackupCodes,
		UserID:    userID,
		Success:   true,
	})
	return codes, nil
}

func (e *Engine) replaceBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := internal.NewBackupCodes(e.config.Backup.Count, e.config.Backup.Length)
	if err != nil {
		return nil, err
	}

	hashes := make([][32]byte, len(codes))
	for i, c := range codes {
		hashes[i] = internal.HashCode(internal.NormalizeCode(c))
	}
	if err := e.identity.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, wrapBackend(err)
	}
	return codes, nil
}

// DisableSecondFactor turns the factor off and discards the secret and
// any remaining backup codes.
func (e *Engine) DisableSecondFactor(ctx context.Context, userID string) error {
	if err := e.identity.DisableTOTP(ctx, userID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return err
		}
		return wrapBackend(err)
	}

	e.metrics.Inc(MetricTOTPDisabled)
	e.audit(ctx, audit.Event{
		EventType: audit.TypeTOTPDisabled,
		UserID:    userID,
		Success:   true,
	})
	return nil
}
