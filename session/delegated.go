package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const assertionTTL = time.Minute

// DelegatedIssuer obtains session credentials from an external identity
// provider: it signs a short-lived assertion naming the subject, POSTs
// it to the provider's token-exchange endpoint, and hands the returned
// opaque value to the caller. The provider owns the credential format;
// revocation still happens locally through the registry, keyed by a
// digest of the opaque value.
type DelegatedIssuer struct {
	exchangeURL  string
	clientID     string
	assertionKey []byte
	httpClient   *http.Client
	registry     *registry
	now          func() time.Time
}

type DelegatedConfig struct {
	// ExchangeURL is the provider's token-exchange endpoint.
	ExchangeURL string
	// ClientID identifies this service in the assertion audience.
	ClientID string
	// AssertionKey signs the exchange assertion (HS256, shared with the
	// provider).
	AssertionKey []byte
	// HTTPClient defaults to a client with a 10-second timeout.
	HTTPClient *http.Client
}

func NewDelegatedIssuer(cfg DelegatedConfig, redisClient redis.UniversalClient, prefix string) (*DelegatedIssuer, error) {
	if cfg.ExchangeURL == "" {
		return nil, errors.New("exchange URL required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID required")
	}
	if len(cfg.AssertionKey) < 32 {
		return nil, errors.New("assertion key must be at least 32 bytes")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &DelegatedIssuer{
		exchangeURL:  cfg.ExchangeURL,
		clientID:     cfg.ClientID,
		assertionKey: cfg.AssertionKey,
		httpClient:   httpClient,
		registry:     newRegistry(redisClient, prefix),
		now:          time.Now,
	}, nil
}

func (d *DelegatedIssuer) Issue(ctx context.Context, id Identity, meta Metadata, ttl time.Duration) (string, error) {
	assertion, err := d.signAssertion(id, ttl)
	if err != nil {
		return "", err
	}

	opaque, err := d.exchange(ctx, assertion, ttl)
	if err != nil {
		return "", err
	}

	now := d.now()
	rec := &registryRecord{
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := d.registry.Save(ctx, tokenDigest(opaque), rec, ttl); err != nil {
		return "", err
	}
	return opaque, nil
}

func (d *DelegatedIssuer) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalid
	}

	sid := tokenDigest(token)
	rec, err := d.registry.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, ErrBackend) {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return nil, err
	}

	return &Claims{
		UserID:    rec.UserID,
		Email:     rec.Email,
		Role:      rec.Role,
		SessionID: sid,
		ExpiresAt: time.Unix(rec.ExpiresAt, 0),
	}, nil
}

func (d *DelegatedIssuer) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sid := tokenDigest(token)
	rec, err := d.registry.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil
		}
		return err
	}
	return d.registry.Delete(ctx, sid, rec.UserID)
}

func (d *DelegatedIssuer) RevokeAll(ctx context.Context, userID string) (int, error) {
	return d.registry.DeleteAllForUser(ctx, userID)
}

func (d *DelegatedIssuer) Active(ctx context.Context, userID string) ([]Session, error) {
	return d.registry.ListForUser(ctx, userID)
}

func (d *DelegatedIssuer) signAssertion(id Identity, ttl time.Duration) (string, error) {
	now := d.now()
	claims := jwt.MapClaims{
		"iss":         d.clientID,
		"sub":         id.UserID,
		"aud":         d.exchangeURL,
		"iat":         now.Unix(),
		"exp":         now.Add(assertionTTL).Unix(),
		"email":       id.Email,
		"role":        id.Role,
		"session_ttl": int64(ttl.Seconds()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.assertionKey)
}

func (d *DelegatedIssuer) exchange(ctx context.Context, assertion string, ttl time.Duration) (string, error) {
	form := url.Values{}
	form.Set("assertion", assertion)
	form.Set("client_id", d.clientID)
	form.Set("ttl_seconds", fmt.Sprintf("%d", int64(ttl.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.exchangeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: exchange returned %d", ErrBackend, resp.StatusCode)
	}

	var body struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if body.SessionToken == "" {
		return "", fmt.Errorf("%w: exchange returned empty token", ErrBackend)
	}
	return body.SessionToken, nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
