package adminauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for a wrong password, an unknown
	// email, or an account with no password set. The three cases are
	// deliberately indistinguishable to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned while the lockout window is active,
	// regardless of credential correctness. Callers can extract the lock
	// expiry with [errors.As] against [*LockoutError].
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountDisabled is returned for a deactivated account.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrCodeInvalid covers a wrong or malformed TOTP, backup, or SMS code.
	ErrCodeInvalid = errors.New("invalid or expired code")

	// ErrCodeExpired is returned when a verification attempt has passed its
	// expiry or no live attempt exists.
	ErrCodeExpired = errors.New("verification code expired")

	// ErrCodeAttemptsExceeded is returned once a verification attempt has
	// consumed its check budget; the caller must request a new code.
	ErrCodeAttemptsExceeded = errors.New("verification attempts exceeded")

	// ErrRateLimited is returned when a guard policy rejects the request.
	// Callers can extract the reset time with [errors.As] against
	// [*RateLimitError].
	ErrRateLimited = errors.New("rate limited")

	// ErrSessionInvalid covers a missing, malformed, expired, or revoked
	// session credential.
	ErrSessionInvalid = errors.New("invalid session")

	// ErrPendingInvalid is returned when the pending-login marker between
	// the credential and second-factor steps is missing or expired.
	ErrPendingInvalid = errors.New("pending login invalid or expired")

	// ErrUpstreamUnavailable indicates a backing store or gateway failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSecondFactorNotConfigured is returned when a TOTP or backup-code
	// operation targets an account without the factor enabled.
	ErrSecondFactorNotConfigured = errors.New("second factor not configured")

	// ErrSetupNotFound is returned when a TOTP setup confirmation arrives
	// with no live provisioning material for the account.
	ErrSetupNotFound = errors.New("totp setup not found or expired")

	// ErrPhoneMissing is returned when step-up verification is requested
	// for an account without a phone number on file.
	ErrPhoneMissing = errors.New("phone number not on file")

	// ErrPurposeUnknown is returned for a step-up purpose outside the
	// closed set.
	ErrPurposeUnknown = errors.New("unknown step-up purpose")

	// ErrAccountNotFound is returned by identity stores when no account
	// matches. The engine converts it to ErrInvalidCredentials on the
	// login path.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEngineNotReady is returned when a required collaborator was not
	// wired through the builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// wrapBackend folds a store or gateway failure into the public
// taxonomy while keeping the cause in the message.
func wrapBackend(err error) error {
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// LockoutError reports an active account lockout together with its expiry.
// It matches ErrAccountLocked under [errors.Is].
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockoutError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitError reports a guard rejection together with the block expiry,
// when one is known. It matches ErrRateLimited under [errors.Is].
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
