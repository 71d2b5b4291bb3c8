package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-vault-bridge/core"
)

// auditRingCap bounds the shared audit log. The ring holds the most recent
// deliveries, newest first.
const auditRingCap = 100

// AuditLog is the bounded, most-recent-first delivery history persisted in
// shared storage. Append is best effort for callers: a full pipeline run
// never fails because the audit write did.
type AuditLog struct {
	store core.KVStore
	now   func() time.Time
}

func NewAuditLog(kv core.KVStore) *AuditLog {
	return &AuditLog{
		store: kv,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append records one delivery outcome at the head of the ring, trimming the
// tail past capacity.
func (a *AuditLog) Append(ctx context.Context, entry core.AuditEntry) error {
	if a == nil || a.store == nil {
		return fmt.Errorf("webhook: audit log is not configured")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}

	entries, err := a.Entries(ctx)
	if err != nil {
		return err
	}

	entries = append([]core.AuditEntry{entry}, entries...)
	if len(entries) > auditRingCap {
		entries = entries[:auditRingCap]
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("webhook: encode audit log: %w", err)
	}
	if err := a.store.Put(ctx, core.AuditLogKey, raw); err != nil {
		return fmt.Errorf("webhook: persist audit log: %w", err)
	}
	return nil
}

// Entries returns the ring newest first. A missing or corrupt record reads
// as empty.
func (a *AuditLog) Entries(ctx context.Context) ([]core.AuditEntry, error) {
	if a == nil || a.store == nil {
		return nil, fmt.Errorf("webhook: audit log is not configured")
	}
	raw, err := a.store.Get(ctx, core.AuditLogKey)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("webhook: load audit log: %w", err)
	}
	var entries []core.AuditEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil
	}
	return entries, nil
}
