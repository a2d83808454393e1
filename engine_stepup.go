package adminauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextwhatsapp/adminauth/internal"
	"github.com/nextwhatsapp/adminauth/internal/audit"
	"github.com/nextwhatsapp/adminauth/internal/stores"
	"github.com/nextwhatsapp/adminauth/sms"
)

// RequestStepUp sends a fresh SMS verification code for a critical
// action. A new request supersedes any live attempt for the same
// (account, purpose) pair, invalidating the previous code. Delivery is
// throttled by the SMS guard policy.
func (e *Engine) RequestStepUp(ctx context.Context, userID string, purpose StepUpPurpose) (*StepUpChallenge, error) {
	if !purpose.valid() {
		return nil, ErrPurposeUnknown
	}

	if d := e.guard.Check(ctx, "sms:"+userID, e.config.RateLimit.SMS); !d.Allowed {
		e.metrics.Inc(MetricStepUpRateLimited)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeStepUpRequest,
			UserID:    userID,
			Error:     "rate limited",
			Metadata:  map[string]string{"purpose": string(purpose)},
		})
		return nil, &RateLimitError{ResetAt: d.BlockedUntil}
	}

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
	if acct.Phone == "" {
		return nil, ErrPhoneMissing
	}

	code, err := internal.NewStepUpCode()
	if err != nil {
		return nil, err
	}

	expiresAt := e.now().Add(e.config.StepUp.CodeTTL)
	rec := &stores.StepUpRecord{
		Handle:    uuid.NewString(),
		CodeHash:  internal.HashCode(code),
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.stepup.Save(ctx, userID, string(purpose), rec, e.config.StepUp.CodeTTL); err != nil {
		return nil, wrapBackend(err)
	}

	body := fmt.Sprintf(e.config.StepUp.MessageTemplate, code)
	if err := e.gateway.Send(ctx, acct.Phone, body); err != nil {
		e.metrics.Inc(MetricSMSDeliveryFailure)
		// A code nobody received must not stay live.
		_, _ = e.stepup.Delete(ctx, userID, string(purpose))
		e.audit(ctx, audit.Event{
			EventType: audit.TypeStepUpRequest,
			UserID:    userID,
			Error:     "sms delivery failed",
			Metadata:  map[string]string{"purpose": string(purpose)},
		})
		return nil, wrapBackend(err)
	}

	e.metrics.Inc(MetricStepUpRequested)
	e.audit(ctx, audit.Event{
		EventType: audit.TypeStepUpRequest,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"purpose": string(purpose)},
	})

	return &StepUpChallenge{
		Handle:      rec.Handle,
		MaskedPhone: sms.MaskPhone(acct.Phone),
		ExpiresAt:   expiresAt,
	}, nil
}

// ConfirmStepUp checks a submitted code against the live attempt. Each
// wrong code spends one unit of the attempt budget; exhausting it
// removes the attempt and requires a fresh request. Success records a
// grant that authorizes the gated action until the grant TTL lapses.
func (e *Engine) ConfirmStepUp(ctx context.Context, userID string, purpose StepUpPurpose, handle, code string) error {
	if !purpose.valid() {
		return ErrPurposeUnknown
	}

	rec, err := e.stepup.Get(ctx, userID, string(purpose))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrStepUpNotFound), errors.Is(err, stores.ErrStepUpExpired):
			e.metrics.Inc(MetricStepUpFailure)
			return ErrCodeExpired
		default:
			return wrapBackend(err)
		}
	}

	submitted := internal.HashCode(internal.NormalizeCode(code))
	match := rec.Handle == handle &&
		subtle.ConstantTimeCompare(submitted[:], rec.CodeHash[:]) == 1

	if !match {
		exceeded, err := e.stepup.RecordFailure(ctx, userID, string(purpose), e.config.StepUp.MaxAttempts)
		if err != nil && !errors.Is(err, stores.ErrStepUpNotFound) && !errors.Is(err, stores.ErrStepUpExpired) {
			return wrapBackend(err)
		}

		e.metrics.Inc(MetricStepUpFailure)
		e.audit(ctx, audit.Event{
			EventType: audit.TypeStepUpConfirm,
			UserID:    userID,
			Error:     "code mismatch",
			Metadata:  map[string]string{"purpose": string(purpose)},
		})
		if exceeded {
			return ErrCodeAttemptsExceeded
		}
		return ErrCodeInvalid
	}

	if _, err := e.stepup.Delete(ctx, userID, string(purpose)); err != nil {
		return wrapBackend(err)
	}
	if err := e.stepup.SaveGrant(ctx, userID, string(purpose), e.config.StepUp.GrantTTL); err != nil {
		return wrapBackend(err)
	}

	e.metrics.Inc(MetricStepUpSuccess)
	e.audit(ctx, audit.Event{
		EventType: audit.TypeStepUpConfirm,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"purpose": string(purpose)},
	})
	return nil
}

// HasStepUpGrant reports whether a confirmed step-up authorization is
// live for the pair. Gated actions check this before executing.
func (e *Engine) HasStepUpGrant(ctx context.Context, userID string, purpose StepUpPurpose) (bool, error) {
	ok, err := e.stepup.HasGrant(ctx, userID, string(purpose))
	if err != nil {
		return false, wrapBackend(err)
	}
	return ok, nil
}

// ConsumeStepUpGrant atomically spends the authorization so the gated
// action executes once per confirmation.
func (e *Engine) ConsumeStepUpGrant(ctx context.Context, userID string, purpose StepUpPurpose) (bool, error) {
	ok, err := e.stepup.ConsumeGrant(ctx, userID, string(purpose))
	if err != nil {
		return false, wrapBackend(err)
	}
	return ok, nil
}
