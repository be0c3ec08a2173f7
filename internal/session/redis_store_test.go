package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestSaveAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	data := TokenData{UID: "uid-123", DisplayName: "Priya", Role: "student"}
	if err := store.Save(ctx, "hash-1", data, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.UID != "uid-123" || got.DisplayName != "Priya" || got.Role != "student" {
		t.Fatalf("unexpected token data: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped on save")
	}
}

func TestLookupExpired(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-exp", TokenData{UID: "uid-1"}, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.Lookup(ctx, "hash-exp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup after expiry = %v, want ErrNotFound", err)
	}
}

func TestLookupUnknown(t *testing.T) {
	store, _ := setupTestRedis(t)

	if _, err := store.Lookup(context.Background(), "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup unknown = %v, want ErrNotFound", err)
	}
}

func TestLookupDefaultsRole(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-norole", TokenData{UID: "uid-2"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Lookup(ctx, "hash-norole")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Role != "student" {
		t.Fatalf("expected role to default to student, got %q", got.Role)
	}
}

func TestRevoke(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-rev", TokenData{UID: "uid-3"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Revoke(ctx, "hash-rev"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "hash-rev"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup after revoke = %v, want ErrNotFound", err)
	}

	// Revoking an unknown token is a no-op, not an error.
	if err := store.Revoke(ctx, "no-such-token"); err != nil {
		t.Fatalf("Revoke unknown failed: %v", err)
	}
}

func TestTokenIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	if err := store.Save(ctx, "token-a", TokenData{UID: "uid-a"}, expiresAt); err != nil {
		t.Fatalf("Save a failed: %v", err)
	}
	if err := store.Save(ctx, "token-b", TokenData{UID: "uid-b"}, expiresAt); err != nil {
		t.Fatalf("Save b failed: %v", err)
	}

	if err := store.Revoke(ctx, "token-a"); err != nil {
		t.Fatalf("Revoke a failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "token-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("token-a should be gone, got %v", err)
	}
	got, err := store.Lookup(ctx, "token-b")
	if err != nil || got.UID != "uid-b" {
		t.Fatalf("token-b should survive: %+v, %v", got, err)
	}
}
