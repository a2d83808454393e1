package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalid covers bad signatures, expired tokens, and tokens whose
	// registry entry is gone (revoked or never issued).
	ErrInvalid = errors.New("session invalid")
	// ErrBackend marks registry or identity-provider failures. Verify
	// treats these as invalid rather than guessing.
	ErrBackend = errors.New("session backend unavailable")
)

// Identity is the subject a session is issued for.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Claims is what a verified session proves.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

// Session describes one live session for display and bulk revocation.
type Session struct {
	ID        string
	UserID    string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Metadata is recorded alongside a new session.
type Metadata struct {
	IP        string
	UserAgent string
}

// Issuer is the session credential boundary.
type Issuer interface {
	// Issue mints a credential for id, valid for ttl, and registers it.
	Issue(ctx context.Context, id Identity, meta Metadata, ttl time.Duration) (string, error)
	// Verify validates the credential and returns its claims. Fails
	// closed: registry errors surface as ErrInvalid wrapping ErrBackend.
	Verify(ctx context.Context, token string) (*Claims, error)
	// Revoke invalidates one credential. Unknown tokens are a no-op.
	Revoke(ctx context.Context, token string) error
	// RevokeAll invalidates every live session of a user and returns how
	// many were removed.
	RevokeAll(ctx context.Context, userID string) (int, error)
	// Active lists a user's live sessions.
	Active(ctx context.Context, userID string) ([]Session, error)
}
