package adminauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoginDemandsSecondFactorWhenEnabled(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	env.enableTOTP(t, id)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "admin@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !result.SecondFactorRequired {
		t.Fatalf("second factor not demanded")
	}
	if result.PendingToken == "" || result.SessionToken != "" {
		t.Fatalf("result = %+v", result)
	}
}

func TestConfirmSecondFactorWithTOTP(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	secret, _ := env.enableTOTP(t, id)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "admin@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	code := currentTOTP(t, secret, env.engine.config.TOTP)
	final, err := env.engine.ConfirmSecondFactor(ctx, result.PendingToken, code, MethodTOTP)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if final.SessionToken == "" {
		t.Fatalf("no session after second factor")
	}

	if _, err := env.engine.VerifySession(ctx, final.SessionToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// The pending marker is consumed; replaying the confirmation fails.
	if _, err := env.engine.ConfirmSecondFactor(ctx, result.PendingToken, code, MethodTOTP); !errors.Is(err, ErrPendingInvalid) {
		t.Fatalf("replay err = %v, want ErrPendingInvalid", err)
	}
}

func TestConfirmSecondFactorWrongCodeAllowsRetry(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	secret, _ := env.enableTOTP(t, id)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, "admin@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := env.engine.ConfirmSecondFactor(ctx, result.PendingToken, "000000", MethodTOTP); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("wrong code err = %v, want ErrCodeInvalid", err)
	}

	// A wrong code does not burn the pending login.
	code := currentTOTP(t, secret, env.engine.config.TOTP)
	if _, err := env.engine.ConfirmSecondFactor(ctx, result.PendingToken, code, MethodTOTP); err != nil {
		t.Fatalf("retry with correct code: %v", err)
	}
}

func TestConfirmSecondFactorGarbagePendingToken(t *testing.T) {
	env := newTestEngine(t)

	if _, err := env.engine.ConfirmSecondFactor(context.Background(), "nope", "123456", MethodTOTP); !errors.Is(err, ErrPendingInvalid) {
		t.Fatalf("err = %v, want ErrPendingInvalid", err)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	_, codes := env.enableTOTP(t, id)
	ctx := context.Background()

	login := func() string {
		t.Helper()
		result, err := env.engine.Login(ctx, "admin@example.com", "correct horse battery")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		return result.PendingToken
	}

	// Codes are accepted case-insensitively with spaces stripped.
	sloppy := " " + strings.ToLower(codes[0][:5]) + " " + strings.ToLower(codes[0][5:]) + " "
	if _, err := env.engine.ConfirmSecondFactor(ctx, login(), sloppy, MethodBackupCode); err != nil {
		t.Fatalf("backup confirm: %v", err)
	}

	// The same code is gone permanently.
	if _, err := env.engine.ConfirmSecondFactor(ctx, login(), codes[0], MethodBackupCode); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("reused code err = %v, want ErrCodeInvalid", err)
	}

	// A different code still works.
	if _, err := env.engine.ConfirmSecondFactor(ctx, login(), codes[1], MethodBackupCode); err != nil {
		t.Fatalf("second backup code: %v", err)
	}
}

func TestProvisionThenConfirmPersistsOnlyOnConfirm(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	ctx := context.Background()

	prov, err := env.engine.ProvisionTOTP(ctx, id)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !strings.HasPrefix(prov.URI, "otpauth://totp/") {
		t.Fatalf("URI = %q", prov.URI)
	}
	if !strings.Contains(prov.URI, "admin%40example.com") && !strings.Contains(prov.URI, "admin@example.com") {
		t.Fatalf("URI does not name the account: %q", prov.URI)
	}

	acct := env.ids.get(id)
	if acct.TwoFactorEnabled || acct.TOTPSecret != nil {
		t.Fatalf("factor persisted before confirmation: %+v", acct)
	}

	if _, err := env.engine.ConfirmTOTPSetup(ctx, id, "000000"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("wrong confirmation err = %v, want ErrCodeInvalid", err)
	}
	if env.ids.get(id).TwoFactorEnabled {
		t.Fatalf("factor enabled by wrong code")
	}

	cached, err := env.engine.setup.Get(ctx, id)
	if err != nil {
		t.Fatalf("cached secret: %v", err)
	}
	code := currentTOTP(t, cached, env.engine.config.TOTP)
	if _, err := env.engine.ConfirmTOTPSetup(ctx, id, code); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	acct = env.ids.get(id)
	if !acct.TwoFactorEnabled || acct.TOTPSecret == nil {
		t.Fatalf("factor not persisted after confirmation: %+v", acct)
	}

	// Provisioning material is gone once confirmed.
	if _, err := env.engine.ConfirmTOTPSetup(ctx, id, code); !errors.Is(err, ErrSetupNotFound) {
		t.Fatalf("second confirm err = %v, want ErrSetupNotFound", err)
	}
}

func TestProvisioningExpires(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	ctx := context.Background()

	if _, err := env.engine.ProvisionTOTP(ctx, id); err != nil {
		t.Fatalf("provision: %v", err)
	}

	env.mr.FastForward(env.engine.config.TOTP.SetupTTL + time.Second)

	if _, err := env.engine.ConfirmTOTPSetup(ctx, id, "123456"); !errors.Is(err, ErrSetupNotFound) {
		t.Fatalf("err = %v, want ErrSetupNotFound", err)
	}
}

func TestRegenerateBackupCodesInvalidatesOld(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	_, oldCodes := env.enableTOTP(t, id)
	ctx := context.Background()

	newCodes, err := env.engine.RegenerateBackupCodes(ctx, id)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(newCodes) != env.engine.config.Backup.Count {
		t.Fatalf("got %d codes", len(newCodes))
	}

	login := func() string {
		t.Helper()
		result, err := env.engine.Login(ctx, "admin@example.com", "correct horse battery")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		return result.PendingToken
	}

	if _, err := env.engine.ConfirmSecondFactor(ctx, login(), oldCodes[0], MethodBackupCode); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("old code err = %v, want ErrCodeInvalid", err)
	}
	if _, err := env.engine.ConfirmSecondFactor(ctx, login(), newCodes[0], MethodBackupCode); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func TestRegenerateRequiresEnabledFactor(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")

	if _, err := env.engine.RegenerateBackupCodes(context.Background(), id); !errors.Is(err, ErrSecondFactorNotConfigured) {
		t.Fatalf("err = %v, want ErrSecondFactorNotConfigured", err)
	}
}

func TestDisableSecondFactor(t *testing.T) {
	env := newTestEngine(t)
	id := env.addAccount(t, "admin@example.com", "correct horse battery")
	env.enableTOTP(t, id)
	ctx := context.Background()

	if err := env.engine.DisableSecondFactor(ctx, id); err != nil {
		t.Fatalf("disable: %v", err)
	}

	acct := env.ids.get(id)
	if acct.TwoFactorEnabled || acct.TOTPSecret != nil {
		t.Fatalf("factor still present: %+v", acct)
	}

	// Login goes straight to a session again.
	result, err := env.engine.Login(ctx, "admin@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.SecondFactorRequired {
		t.Fatalf("second factor demanded after disable")
	}
}
