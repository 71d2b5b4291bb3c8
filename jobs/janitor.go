package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-vault-bridge/core"
)

// DefaultClaimTTL is how long a processing claim may sit before the
// janitor treats its delivery as crashed and releases the claim.
const DefaultClaimTTL = 30 * time.Minute

const claimKeyPrefix = "webhook-processed-"

// JanitorStore is the storage surface the janitor needs: point reads and
// deletes plus prefix listing.
type JanitorStore interface {
	core.KVStore
	core.KeyLister
}

// Janitor releases claims stuck in the processing state. A delivery that
// crashed between claiming and finalizing leaves a placeholder behind;
// without the sweep that event could never produce a ticket.
type Janitor struct {
	store  JanitorStore
	ttl    time.Duration
	logger core.Logger
	now    func() time.Time
}

func NewJanitor(store JanitorStore, ttl time.Duration, logger core.Logger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("jobs: janitor store is required")
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &Janitor{
		store:  store,
		ttl:    ttl,
		logger: glog.Ensure(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Sweep deletes processing claims older than the TTL and reports how many
// it released. Finalized claims are never touched.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	if j == nil || j.store == nil {
		return 0, fmt.Errorf("jobs: janitor is not configured")
	}

	keys, err := j.store.Keys(ctx, claimKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("jobs: list claims: %w", err)
	}

	cutoff := j.now().Add(-j.ttl)
	released := 0
	for _, key := range keys {
		raw, err := j.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var claim core.DuplicateClaim
		if err := json.Unmarshal(raw, &claim); err != nil {
			continue
		}
		if claim.Finalized() {
			continue
		}
		if claim.CreatedAt.After(cutoff) {
			continue
		}
		if err := j.store.Delete(ctx, key); err != nil {
			j.logger.Warn("stale claim release failed", "key", key, "error", err.Error())
			continue
		}
		j.logger.Info("released stale processing claim",
			"key", key,
			"claimed_at", claim.CreatedAt.Format(time.RFC3339),
		)
		released++
	}
	return released, nil
}
