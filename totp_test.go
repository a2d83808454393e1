package adminauth

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"testing"
	"time"
)

func testTOTPConfig() TOTPConfig {
	return DefaultConfig().TOTP
}

func newTestSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("secret: %v", err)
	}
	return secret
}

func TestTOTPAcceptsCodesWithinSkew(t *testing.T) {
	cfg := testTOTPConfig()
	mgr := newTOTPManager(cfg)
	secret := newTestSecret(t)
	now := time.Unix(1700000000, 0)
	step := int64(cfg.Period)

	for offset := -cfg.Skew; offset <= cfg.Skew; offset++ {
		code, err := hotpCode(secret, now.Unix()/step+int64(offset), cfg.Digits)
		if err != nil {
			t.Fatalf("hotp: %v", err)
		}
		ok, err := mgr.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("verify offset %d: %v", offset, err)
		}
		if !ok {
			t.Fatalf("code at offset %d rejected", offset)
		}
	}
}

func TestTOTPRejectsCodesOutsideSkew(t *testing.T) {
	cfg := testTOTPConfig()
	mgr := newTOTPManager(cfg)
	secret := newTestSecret(t)
	now := time.Unix(1700000000, 0)
	step := int64(cfg.Period)

	for _, offset := range []int{-(cfg.Skew + 1), cfg.Skew + 1, 10} {
		code, err := hotpCode(secret, now.Unix()/step+int64(offset), cfg.Digits)
		if err != nil {
			t.Fatalf("hotp: %v", err)
		}
		ok, err := mgr.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if ok {
			t.Fatalf("code at offset %d accepted", offset)
		}
	}
}

func TestTOTPRejectsMalformedCodes(t *testing.T) {
	cfg := testTOTPConfig()
	mgr := newTOTPManager(cfg)
	secret := newTestSecret(t)
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456", "......"} {
		ok, err := mgr.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("verify %q: %v", code, err)
		}
		if ok {
			t.Fatalf("malformed code %q accepted", code)
		}
	}
}

func TestTOTPWrongSecretRejected(t *testing.T) {
	cfg := testTOTPConfig()
	mgr := newTOTPManager(cfg)
	now := time.Now()

	right := newTestSecret(t)
	wrong := newTestSecret(t)
	code, err := hotpCode(right, now.Unix()/int64(cfg.Period), cfg.Digits)
	if err != nil {
		t.Fatalf("hotp: %v", err)
	}
	ok, err := mgr.VerifyCode(wrong, code, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("code for one secret accepted under another")
	}
}

func TestProvisionURI(t *testing.T) {
	cfg := testTOTPConfig()
	mgr := newTOTPManager(cfg)

	secret := newTestSecret(t)
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
	uri := mgr.ProvisionURI(encoded, "admin@example.com")

	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("uri = %q", uri)
	}
	for _, want := range []string{
		"secret=" + encoded,
		"algorithm=SHA1",
		"digits=6",
		"period=30",
		"admin@example.com",
	} {
		if !strings.Contains(uri, want) {
			t.Fatalf("uri %q missing %q", uri, want)
		}
	}
}

func TestGenerateSecretLengthAndEntropy(t *testing.T) {
	mgr := newTOTPManager(testTOTPConfig())

	a, aEnc, err := mgr.GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, bEnc, err := mgr.GenerateSecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(a) != 20 || len(b) != 20 {
		t.Fatalf("secret lengths = %d, %d", len(a), len(b))
	}
	if string(a) == string(b) {
		t.Fatalf("two generated secrets are identical")
	}
	if decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(aEnc); err != nil || string(decoded) != string(a) {
		t.Fatalf("encoded secret does not round-trip: %v", err)
	}
	if aEnc == bEnc {
		t.Fatalf("encoded secrets collide")
	}
}
