package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-vault-bridge/core"
	"github.com/goliatone/go-vault-bridge/store"
)

func seedClaim(t *testing.T, kv core.KVStore, requestUID string, claim core.DuplicateClaim) {
	t.Helper()
	raw, err := json.Marshal(claim)
	if err != nil {
		t.Fatalf("marshal claim: %v", err)
	}
	if err := kv.Put(context.Background(), core.ClaimKey(requestUID), raw); err != nil {
		t.Fatalf("seed claim: %v", err)
	}
}

func TestJanitor_ReleasesOnlyStaleProcessingClaims(t *testing.T) {
	mem := store.NewMemory()
	janitor, err := NewJanitor(mem, 30*time.Minute, nil)
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	janitor.now = func() time.Time { return now }

	// Stale placeholder: should be released.
	seedClaim(t, mem, "req-stale", core.DuplicateClaim{
		IssueKey:  core.ClaimStatusProcessing,
		IssueID:   core.ClaimStatusProcessing,
		CreatedAt: now.Add(-time.Hour),
	})
	// Fresh placeholder: still inside the TTL.
	seedClaim(t, mem, "req-fresh", core.DuplicateClaim{
		IssueKey:  core.ClaimStatusProcessing,
		IssueID:   core.ClaimStatusProcessing,
		CreatedAt: now.Add(-time.Minute),
	})
	// Finalized claim, however old, is permanent.
	seedClaim(t, mem, "req-done", core.DuplicateClaim{
		IssueKey:  "SEC-1",
		IssueID:   "10001",
		CreatedAt: now.Add(-24 * time.Hour),
	})

	released, err := janitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected one released claim, got %d", released)
	}

	ctx := context.Background()
	if _, err := mem.Get(ctx, core.ClaimKey("req-stale")); !errors.Is(err, core.ErrKeyNotFound) {
		t.Fatalf("stale claim must be deleted, got %v", err)
	}
	if _, err := mem.Get(ctx, core.ClaimKey("req-fresh")); err != nil {
		t.Fatalf("fresh claim must survive: %v", err)
	}
	if _, err := mem.Get(ctx, core.ClaimKey("req-done")); err != nil {
		t.Fatalf("finalized claim must survive: %v", err)
	}
}

func TestJanitor_EmptyStoreSweepsNothing(t *testing.T) {
	janitor, err := NewJanitor(store.NewMemory(), 0, nil)
	if err != nil {
		t.Fatalf("new janitor: %v", err)
	}
	released, err := janitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected zero releases, got %d", released)
	}
}
