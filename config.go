package adminauth

import (
	"errors"
	"time"

	"github.com/nextwhatsapp/adminauth/internal/guard"
)

// Config groups the engine's tuning parameters by concern. Zero values
// are filled in from [DefaultConfig] by the builder; Validate rejects
// combinations that would weaken the documented security properties.
type Config struct {
	Credentials CredentialsConfig
	Password    PasswordConfig
	TOTP        TOTPConfig
	Backup      BackupConfig
	StepUp      StepUpConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// CredentialsConfig controls the credential verifier and account lockout.
type CredentialsConfig struct {
	// LockThreshold is the failed-attempt count that trips a lockout.
	LockThreshold int
	// LockDuration is how long a tripped lockout holds.
	LockDuration time.Duration
	// PendingTTL bounds the window between a successful password check
	// and the second-factor confirmation.
	PendingTTL time.Duration
	// Role is the account role the engine authenticates.
	Role string
}

// PasswordConfig carries the argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// TOTPConfig controls the time-based second factor.
type TOTPConfig struct {
	Issuer string
	Digits int
	// Period is the code lifetime in seconds.
	Period int
	// Skew is the accepted clock drift in steps on each side of now.
	Skew int
	// SetupTTL bounds how long unconfirmed provisioning material is kept.
	SetupTTL time.Duration
}

// BackupConfig controls recovery-code generation.
type BackupConfig struct {
	Count  int
	Length int
}

// StepUpConfig controls SMS step-up verification for critical actions.
type StepUpConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
	// GrantTTL is how long a confirmed step-up authorizes the gated
	// action before it must be re-verified.
	GrantTTL time.Duration
	// MessageTemplate formats the SMS body; it must contain one %s verb
	// for the code.
	MessageTemplate string
}

// SessionConfig controls session credentials and their cookies.
type SessionConfig struct {
	TTL               time.Duration
	CookieName        string
	PendingCookieName string
	RedisPrefix       string
}

// RateLimitConfig names the guard policies. Keys are composed by the
// engine; the policies only carry thresholds and durations.
type RateLimitConfig struct {
	Login guard.Policy
	SMS   guard.Policy
	API   guard.Policy
}

// AuditConfig controls the async audit dispatcher. Events are dropped
// rather than blocking the request path when the buffer is saturated.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults observed by the admin
// console: 5 failures / 30 minute lockout, 6-digit TOTP with a ±2-step
// window, 10-minute SMS codes with a 3-check budget, and 5-day sessions.
func DefaultConfig() Config {
	return Config{
		Credentials: CredentialsConfig{
			LockThreshold: 5,
			LockDuration:  30 * time.Minute,
			PendingTTL:    10 * time.Minute,
			Role:          RoleAdmin,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		TOTP: TOTPConfig{
			Issuer:   "WhatsApp Admin",
			Digits:   6,
			Period:   30,
			Skew:     2,
			SetupTTL: 10 * time.Minute,
		},
		Backup: BackupConfig{
			Count:  10,
			Length: 10,
		},
		StepUp: StepUpConfig{
			CodeTTL:         10 * time.Minute,
			MaxAttempts:     3,
			GrantTTL:        5 * time.Minute,
			MessageTemplate: "WhatsApp Bulk admin verification code: %s",
		},
		Session: SessionConfig{
			TTL:               5 * 24 * time.Hour,
			CookieName:        "admin-session",
			PendingCookieName: "admin-pending",
			RedisPrefix:       "aa",
		},
		RateLimit: RateLimitConfig{
			Login: guard.Policy{MaxAttempts: 5, Window: 5 * time.Minute, BlockDuration: 30 * time.Minute},
			SMS:   guard.Policy{MaxAttempts: 3, Window: 10 * time.Minute, BlockDuration: time.Hour},
			API:   guard.Policy{MaxAttempts: 100, Window: time.Minute, BlockDuration: 5 * time.Minute},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func (c *Config) validate() error {
	if c.Credentials.LockThreshold < 3 {
		return errors.New("credentials: lock threshold must be >= 3")
	}
	if c.Credentials.LockDuration < time.Minute {
		return errors.New("credentials: lock duration must be >= 1m")
	}
	if c.Credentials.PendingTTL <= 0 || c.Credentials.PendingTTL > time.Hour {
		return errors.New("credentials: pending TTL must be in (0, 1h]")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp: digits must be 6..8")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("totp: period must be 15..120 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 4 {
		return errors.New("totp: skew must be 0..4 steps")
	}
	if c.Backup.Count < 1 || c.Backup.Length < 8 {
		return errors.New("backup: need at least one code of >= 8 chars")
	}
	if c.StepUp.CodeTTL <= 0 || c.StepUp.MaxAttempts < 1 {
		return errors.New("stepup: code TTL and attempt budget required")
	}
	if c.Session.TTL < time.Minute {
		return errors.New("session: TTL must be >= 1m")
	}
	if c.Session.CookieName == "" || c.Session.PendingCookieName == "" {
		return errors.New("session: cookie names required")
	}
	for _, p := range []guard.Policy{c.RateLimit.Login, c.RateLimit.SMS, c.RateLimit.API} {
		if p.MaxAttempts < 1 || p.Window <= 0 || p.BlockDuration <= 0 {
			return errors.New("ratelimit: every policy needs attempts, window, and block duration")
		}
	}
	return nil
}

func fillConfigDefaults(c *Config) {
	d := DefaultConfig()
	if c.Credentials.LockThreshold == 0 {
		c.Credentials.LockThreshold = d.Credentials.LockThreshold
	}
	if c.Credentials.LockDuration == 0 {
		c.Credentials.LockDuration = d.Credentials.LockDuration
	}
	if c.Credentials.PendingTTL == 0 {
		c.Credentials.PendingTTL = d.Credentials.PendingTTL
	}
	if c.Credentials.Role == "" {
		c.Credentials.Role = d.Credentials.Role
	}
	if c.Password.Memory == 0 {
		c.Password = d.Password
	}
	if c.TOTP.Issuer == "" {
		c.TOTP.Issuer = d.TOTP.Issuer
	}
	if c.TOTP.Digits == 0 {
		c.TOTP.Digits = d.TOTP.Digits
	}
	if c.TOTP.Period == 0 {
		c.TOTP.Period = d.TOTP.Period
	}
	if c.TOTP.Skew == 0 {
		c.TOTP.Skew = d.TOTP.Skew
	}
	if c.TOTP.SetupTTL == 0 {
		c.TOTP.SetupTTL = d.TOTP.SetupTTL
	}
	if c.Backup.Count == 0 {
		c.Backup.Count = d.Backup.Count
	}
	if c.Backup.Length == 0 {
		c.Backup.Length = d.Backup.Length
	}
	if c.StepUp.CodeTTL == 0 {
		c.StepUp.CodeTTL = d.StepUp.CodeTTL
	}
	if c.StepUp.MaxAttempts == 0 {
		c.StepUp.MaxAttempts = d.StepUp.MaxAttempts
	}
	if c.StepUp.GrantTTL == 0 {
		c.StepUp.GrantTTL = d.StepUp.GrantTTL
	}
	if c.StepUp.MessageTemplate == "" {
		c.StepUp.MessageTemplate = d.StepUp.MessageTemplate
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = d.Session.TTL
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = d.Session.CookieName
	}
	if c.Session.PendingCookieName == "" {
		c.Session.PendingCookieName = d.Session.PendingCookieName
	}
	if c.Session.RedisPrefix == "" {
		c.Session.RedisPrefix = d.Session.RedisPrefix
	}
	if c.RateLimit.Login.MaxAttempts == 0 {
		c.RateLimit.Login = d.RateLimit.Login
	}
	if c.RateLimit.SMS.MaxAttempts == 0 {
		c.RateLimit.SMS = d.RateLimit.SMS
	}
	if c.RateLimit.API.MaxAttempts == 0 {
		c.RateLimit.API = d.RateLimit.API
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = d.Audit.BufferSize
	}
}
