package adminauth

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/nextwhatsapp/adminauth/internal/audit"
)

// Role names the two account roles the console distinguishes.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account is the identity record the engine reads from and writes to
// through [IdentityStore]. Backup codes are not carried here; they are
// consumed through the store's conditional primitive so that two
// concurrent submissions of the same code cannot both succeed.
type Account struct {
	ID               string
	Email            string
	Name             string
	Role             string
	PasswordHash     string
	Phone            string
	TwoFactorEnabled bool
	TOTPSecret       []byte
	FailedLogins     int
	Locked           bool
	LockedUntil      time.Time
	LastLoginAt      time.Time
	LastLoginIP      string
	Active           bool
}

// IdentityStore is the account-database boundary. Implementations must
// make IncrementFailedLogins an atomic increment-and-return against the
// backing store (not read-modify-write) and ConsumeBackupCode a
// conditional delete keyed on set membership; both requirements exist so
// that concurrent logins cannot under-count failures past the threshold
// or accept the same backup code twice.
type IdentityStore interface {
	// GetByEmail resolves an account by email (case-insensitive) and role.
	// Returns ErrAccountNotFound when no such account exists.
	GetByEmail(ctx context.Context, email, role string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)

	// IncrementFailedLogins atomically bumps the failed-login counter and
	// returns the new value.
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	// ResetFailedLogins zeroes the counter, clears the lock, and records
	// the successful login timestamp and source IP.
	ResetFailedLogins(ctx context.Context, id string, at time.Time, ip string) error
	SetLock(ctx context.Context, id string, until time.Time) error
	ClearLock(ctx context.Context, id string) error

	EnableTOTP(ctx context.Context, id string, secret []byte) error
	DisableTOTP(ctx context.Context, id string) error

	// ReplaceBackupCodes swaps the stored code set for the given SHA-256
	// hashes. Passing an empty slice clears the set.
	ReplaceBackupCodes(ctx context.Context, id string, hashes [][32]byte) error
	// ConsumeBackupCode removes one code by hash. Returns false when the
	// code is not in the set; a consumed code is gone permanently.
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error)

	UpdatePhone(ctx context.Context, id, phone string) error
	// Deactivate marks the account inactive. Accounts are never hard
	// deleted by this engine.
	Deactivate(ctx context.Context, id string) error
}

// LoginResult is returned by [Engine.Login] and
// [Engine.ConfirmSecondFactor]. Exactly one of SessionToken or
// PendingToken is set: PendingToken when a second factor is still
// required, SessionToken once authentication is complete.
type LoginResult struct {
	SecondFactorRequired bool
	PendingToken         string
	SessionToken         string
	UserID               string
	Email                string
}

// SecondFactorMethod selects which second factor a confirmation uses.
type SecondFactorMethod string

const (
	// MethodTOTP verifies a time-based code against the stored secret.
	MethodTOTP SecondFactorMethod = "totp"
	// MethodBackupCode consumes one single-use recovery code.
	MethodBackupCode SecondFactorMethod = "backup"
)

// StepUpPurpose is the closed set of critical actions that SMS step-up
// verification can gate. At most one live verification attempt exists
// per (account, purpose).
type StepUpPurpose string

const (
	PurposeBulkSend       StepUpPurpose = "bulk_send"
	PurposeChangePassword StepUpPurpose = "change_password"
	PurposeUpdatePhone    StepUpPurpose = "update_phone"
	PurposeDeleteAccount  StepUpPurpose = "delete_account"
)

func (p StepUpPurpose) valid() bool {
	switch p {
	case PurposeBulkSend, PurposeChangePassword, PurposeUpdatePhone, PurposeDeleteAccount:
		return true
	}
	return false
}

// StepUpChallenge is returned by [Engine.RequestStepUp]. MaskedPhone is
// safe to echo to the caller; the code itself travels only over SMS.
type StepUpChallenge struct {
	Handle      string
	MaskedPhone string
	ExpiresAt   time.Time
}

// TOTPProvision holds the freshly generated secret and otpauth:// URI
// returned by [Engine.ProvisionTOTP]. Nothing durable is written until
// [Engine.ConfirmTOTPSetup] sees a valid code.
type TOTPProvision struct {
	SecretBase32 string
	URI          string
	ExpiresAt    time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON-encoded event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
