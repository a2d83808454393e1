package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestTokenIssuer(t *testing.T) (Issuer, *miniredis.Miniredis) {
	t.Helper()

	mr, client := newTestRedis(t)
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("secret: %v", err)
	}
	issuer, err := NewTokenIssuer(secret, "adminauth-test", client, "aa")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer, mr
}

func newTestDelegatedIssuer(t *testing.T) (Issuer, *miniredis.Miniredis) {
	t.Helper()

	mr, client := newTestRedis(t)

	var seq int
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.FormValue("assertion") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		seq++
		_ = json.NewEncoder(w).Encode(map[string]string{
			"session_token": "opaque-" + time.Now().Format("150405.000000000") + "-" + r.FormValue("client_id") + string(rune('a'+seq%26)),
		})
	}))
	t.Cleanup(idp.Close)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("key: %v", err)
	}
	issuer, err := NewDelegatedIssuer(DelegatedConfig{
		ExchangeURL:  idp.URL,
		ClientID:     "adminauth-test",
		AssertionKey: key,
		HTTPClient:   idp.Client(),
	}, client, "aa")
	if err != nil {
		t.Fatalf("NewDelegatedIssuer: %v", err)
	}
	return issuer, mr
}

var issuerImpls = []struct {
	name string
	make func(t *testing.T) (Issuer, *miniredis.Miniredis)
}{
	{"token", newTestTokenIssuer},
	{"delegated", newTestDelegatedIssuer},
}

func testIdentity() Identity {
	return Identity{UserID: "u1", Email: "admin@example.com", Role: "admin"}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	for _, impl := range issuerImpls {
		t.Run(impl.name, func(t *testing.T) {
			issuer, _ := impl.make(t)
			ctx := context.Background()

			token, err := issuer.Issue(ctx, testIdentity(), Metadata{IP: "10.0.0.1", UserAgent: "cli"}, time.Hour)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if token == "" {
				t.Fatalf("empty token")
			}

			claims, err := issuer.Verify(ctx, token)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if claims.UserID != "u1" || claims.Email != "admin@example.com" || claims.Role != "admin" {
				t.Fatalf("claims = %+v", claims)
			}
			if claims.SessionID == "" {
				t.Fatalf("claims missing session ID")
			}
		})
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	for _, impl := range issuerImpls {
		t.Run(impl.name, func(t *testing.T) {
			issuer, _ := impl.make(t)

			for _, token := range []string{"", "garbage", "a.b.c"} {
				if _, err := issuer.Verify(context.Background(), token); !errors.Is(err, ErrInvalid) {
					t.Fatalf("token %q: err = %v, want ErrInvalid", token, err)
				}
			}
		})
	}
}

func TestRevokeInvalidatesToken(t *testing.T) {
	for _, impl := range issuerImpls {
		t.Run(impl.name, func(t *testing.T) {
			issuer, _ := impl.make(t)
			ctx := context.Background()

			token, err := issuer.Issue(ctx, testIdentity(), Metadata{}, time.Hour)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}

			if err := issuer.Revoke(ctx, token); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			if _, err := issuer.Verify(ctx, token); !errors.Is(err, ErrInvalid) {
				t.Fatalf("revoked token verified: %v", err)
			}

			// Revoking again is a no-op.
			if err := issuer.Revoke(ctx, token); err != nil {
				t.Fatalf("second revoke: %v", err)
			}
		})
	}
}

func TestRevokeAllInvalidatesEverySession(t *testing.T) {
	for _, impl := range issuerImpls {
		t.Run(impl.name, func(t *testing.T) {
			issuer, _ := impl.make(t)
			ctx := context.Background()

			var tokens []string
			for i := 0; i < 3; i++ {
				token, err := issuer.Issue(ctx, testIdentity(), Metadata{}, time.Hour)
				if err != nil {
					t.Fatalf("issue %d: %v", i, err)
				}
				tokens = append(tokens, token)
			}
			other, err := issuer.Issue(ctx, Identity{UserID: "u2", Email: "b@example.com", Role: "admin"}, Metadata{}, time.Hour)
			if err != nil {
				t.Fatalf("issue other: %v", err)
			}

			removed, err := issuer.RevokeAll(ctx, "u1")
			if err != nil {
				t.Fatalf("revoke all: %v", err)
			}
			if removed != 3 {
				t.Fatalf("removed = %d, want 3", removed)
			}

			for i, token := range tokens {
				if _, err := issuer.Verify(ctx, token); !errors.Is(err, ErrInvalid) {
					t.Fatalf("token %d survived RevokeAll: %v", i, err)
				}
			}
			if _, err := issuer.Verify(ctx, other); err != nil {
				t.Fatalf("unrelated user's session revoked: %v", err)
			}
		})
	}
}

func TestActiveListsLiveSessions(t *testing.T) {
	for _, impl := range issuerImpls {
		t.Run(impl.name, func(t *testing.T) {
			issuer, _ := impl.make(t)
			ctx := context.Background()

			first, err := issuer.Issue(ctx, testIdentity(), Metadata{IP: "10.0.0.1", UserAgent: "laptop"}, time.Hour)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if _, err := issuer.Issue(ctx, testIdentity(), Metadata{IP: "10.0.0.2", UserAgent: "phone"}, time.Hour); err != nil {
				t.Fatalf("issue: %v", err)
			}

			sessions, err := issuer.Active(ctx, "u1")
			if err != nil {
				t.Fatalf("active: %v", err)
			}
			if len(sessions) != 2 {
				t.Fatalf("len(sessions) = %d, want 2", len(sessions))
			}
			for _, s := range sessions {
				if s.UserID != "u1" || s.IP == "" || s.UserAgent == "" {
					t.Fatalf("session = %+v", s)
				}
			}

			if err := issuer.Revoke(ctx, first); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			sessions, err = issuer.Active(ctx, "u1")
			if err != nil {
				t.Fatalf("active: %v", err)
			}
			if len(sessions) != 1 {
				t.Fatalf("len(sessions) after revoke = %d, want 1", len(sessions))
			}
		})
	}
}

func TestSessionExpires(t *testing.T) {
	for _, impl := range issuerImpls {
		t.Run(impl.name, func(t *testing.T) {
			issuer, mr := impl.make(t)
			ctx := context.Background()

			token, err := issuer.Issue(ctx, testIdentity(), Metadata{}, time.Second)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if _, err := issuer.Verify(ctx, token); err != nil {
				t.Fatalf("fresh token rejected: %v", err)
			}

			mr.FastForward(2 * time.Second)

			if _, err := issuer.Verify(ctx, token); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expired token verified: %v", err)
			}
		})
	}
}

func TestVerifyFailsClosedWhenRegistryDown(t *testing.T) {
	for _, impl := range issuerImpls {
		t.Run(impl.name, func(t *testing.T) {
			issuer, mr := impl.make(t)
			ctx := context.Background()

			token, err := issuer.Issue(ctx, testIdentity(), Metadata{}, time.Hour)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}

			mr.Close()

			if _, err := issuer.Verify(ctx, token); !errors.Is(err, ErrInvalid) {
				t.Fatalf("registry outage should read as invalid, got %v", err)
			}
		})
	}
}

func TestTokenIssuerRejectsForgedSignature(t *testing.T) {
	issuer, _ := newTestTokenIssuer(t)
	forged, _ := newTestTokenIssuer(t)
	ctx := context.Background()

	token, err := forged.Issue(ctx, testIdentity(), Metadata{}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := issuer.Verify(ctx, token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("token signed with another key verified: %v", err)
	}
}
