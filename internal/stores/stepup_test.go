package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStepUpStore(t *testing.T) (*StepUpStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStepUpStore(client, ""), mr
}

func testRecord(handle string, ttl time.Duration) *StepUpRecord {
	return &StepUpRecord{
		Handle:    handle,
		CodeHash:  sha256.Sum256([]byte("123456")),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
}

func TestStepUpSaveGetRoundTrip(t *testing.T) {
	store, _ := newTestStepUpStore(t)
	ctx := context.Background()

	rec := testRecord("h-1", time.Minute)
	if err := store.Save(ctx, "u1", "bulk_send", rec, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Handle != "h-1" {
		t.Fatalf("handle = %q, want h-1", got.Handle)
	}
	if got.CodeHash != rec.CodeHash {
		t.Fatalf("code hash mismatch after round trip")
	}
	if got.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", got.Attempts)
	}
}

func TestStepUpSaveSupersedesPreviousAttempt(t *testing.T) {
	store, _ := newTestStepUpStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "u1", "bulk_send", testRecord("old", time.Minute), time.Minute); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := store.Save(ctx, "u1", "bulk_send", testRecord("new", time.Minute), time.Minute); err != nil {
		t.Fatalf("save new: %v", err)
	}

	got, err := store.Get(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Handle != "new" {
		t.Fatalf("handle = %q, want new (old attempt should be gone)", got.Handle)
	}
}

func TestStepUpPurposesAreIndependent(t *testing.T) {
	store, _ := newTestStepUpStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "u1", "bulk_send", testRecord("a", time.Minute), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Get(ctx, "u1", "change_password"); !errors.Is(err, ErrStepUpNotFound) {
		t.Fatalf("other purpose err = %v, want ErrStepUpNotFound", err)
	}
	if _, err := store.Get(ctx, "u2", "bulk_send"); !errors.Is(err, ErrStepUpNotFound) {
		t.Fatalf("other user err = %v, want ErrStepUpNotFound", err)
	}
}

func TestStepUpGetExpired(t *testing.T) {
	store, mr := newTestStepUpStore(t)
	ctx := context.Background()

	rec := testRecord("h", time.Second)
	if err := store.Save(ctx, "u1", "bulk_send", rec, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	mr.FastForward(2 * time.Second)
	time.Sleep(1100 * time.Millisecond)

	if _, err := store.Get(ctx, "u1", "bulk_send"); !errors.Is(err, ErrStepUpExpired) && !errors.Is(err, ErrStepUpNotFound) {
		t.Fatalf("expired get err = %v, want expired/not found", err)
	}
}

func TestStepUpRecordFailureBudget(t *testing.T) {
	store, _ := newTestStepUpStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "u1", "bulk_send", testRecord("h", time.Minute), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 2; i++ {
		exceeded, err := store.RecordFailure(ctx, "u1", "bulk_send", 3)
		if err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
		if exceeded {
			t.Fatalf("failure %d reported exceeded before budget", i+1)
		}
	}

	exceeded, err := store.RecordFailure(ctx, "u1", "bulk_send", 3)
	if err != nil {
		t.Fatalf("final failure: %v", err)
	}
	if !exceeded {
		t.Fatalf("third failure should exhaust a 3-attempt budget")
	}

	// Exhausting the budget removes the record; a fresh request is needed.
	if _, err := store.Get(ctx, "u1", "bulk_send"); !errors.Is(err, ErrStepUpNotFound) {
		t.Fatalf("record should be gone after budget exhaustion, got %v", err)
	}
}

func TestStepUpRecordFailureMissing(t *testing.T) {
	store, _ := newTestStepUpStore(t)

	if _, err := store.RecordFailure(context.Background(), "u1", "bulk_send", 3); !errors.Is(err, ErrStepUpNotFound) {
		t.Fatalf("err = %v, want ErrStepUpNotFound", err)
	}
}

func TestStepUpDelete(t *testing.T) {
	store, _ := newTestStepUpStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "u1", "bulk_send", testRecord("h", time.Minute), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	existed, err := store.Delete(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !existed {
		t.Fatalf("delete should report an existing record")
	}

	existed, err = store.Delete(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if existed {
		t.Fatalf("second delete should report no record")
	}
}

func TestStepUpGrantLifecycle(t *testing.T) {
	store, mr := newTestStepUpStore(t)
	ctx := context.Background()

	ok, err := store.HasGrant(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("has grant: %v", err)
	}
	if ok {
		t.Fatalf("grant should not exist before confirmation")
	}

	if err := store.SaveGrant(ctx, "u1", "bulk_send", time.Minute); err != nil {
		t.Fatalf("save grant: %v", err)
	}

	ok, err = store.HasGrant(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("has grant: %v", err)
	}
	if !ok {
		t.Fatalf("grant should exist after save")
	}

	consumed, err := store.ConsumeGrant(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("consume grant: %v", err)
	}
	if !consumed {
		t.Fatalf("consume should report an existing grant")
	}

	ok, _ = store.HasGrant(ctx, "u1", "bulk_send")
	if ok {
		t.Fatalf("grant should be single-use")
	}

	if err := store.SaveGrant(ctx, "u1", "bulk_send", time.Second); err != nil {
		t.Fatalf("save grant: %v", err)
	}
	mr.FastForward(2 * time.Second)

	ok, err = store.HasGrant(ctx, "u1", "bulk_send")
	if err != nil {
		t.Fatalf("has grant after expiry: %v", err)
	}
	if ok {
		t.Fatalf("grant should expire with its TTL")
	}
}

func TestStepUpRecordEncodingRoundTrip(t *testing.T) {
	rec := &StepUpRecord{
		Handle:    "3f2c9a7e",
		CodeHash:  sha256.Sum256([]byte("654321")),
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
		Attempts:  2,
	}

	encoded, err := encodeStepUpRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeStepUpRecord(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Handle != rec.Handle || decoded.CodeHash != rec.CodeHash ||
		decoded.ExpiresAt != rec.ExpiresAt || decoded.Attempts != rec.Attempts {
		t.Fatalf("decoded record differs: %+v vs %+v", decoded, rec)
	}

	if _, err := decodeStepUpRecord(encoded[:4]); err == nil {
		t.Fatalf("truncated record should fail to decode")
	}
	encoded[0] = 99
	if _, err := decodeStepUpRecord(encoded); err == nil {
		t.Fatalf("unknown version should fail to decode")
	}
}
