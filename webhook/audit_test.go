package webhook

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-vault-bridge/core"
	"github.com/goliatone/go-vault-bridge/store"
)

func TestAuditLog_NewestFirstAndBounded(t *testing.T) {
	log := NewAuditLog(store.NewMemory())
	ctx := context.Background()

	for i := 0; i < auditRingCap+20; i++ {
		err := log.Append(ctx, core.AuditEntry{
			RequestUID: fmt.Sprintf("req-%d", i),
			Outcome:    OutcomeCreated,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := log.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != auditRingCap {
		t.Fatalf("ring must hold %d entries, got %d", auditRingCap, len(entries))
	}
	if entries[0].RequestUID != fmt.Sprintf("req-%d", auditRingCap+19) {
		t.Fatalf("newest entry must be first, got %s", entries[0].RequestUID)
	}
	if entries[len(entries)-1].RequestUID != "req-20" {
		t.Fatalf("oldest retained entry must be req-20, got %s", entries[len(entries)-1].RequestUID)
	}
	for _, entry := range entries {
		if entry.ID == "" || entry.CreatedAt.IsZero() {
			t.Fatalf("entries must carry id and timestamp: %+v", entry)
		}
	}
}

func TestAuditLog_EmptyReadsAsEmpty(t *testing.T) {
	log := NewAuditLog(store.NewMemory())
	entries, err := log.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty ring, got %d entries", len(entries))
	}
}
