package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// JobIDSweepClaims identifies the recurring claim sweep on the job queue.
const JobIDSweepClaims = "vaultbridge.claims.sweep"

// SweepEnqueuer schedules janitor sweeps through a go-job queue so one
// node at a time runs the sweep in multi-node deployments.
type SweepEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewSweepEnqueuer(enqueuer queue.Enqueuer) *SweepEnqueuer {
	return &SweepEnqueuer{enqueuer: enqueuer}
}

// Enqueue submits one sweep execution. The idempotency key collapses
// duplicate submissions inside the same minute.
func (e *SweepEnqueuer) Enqueue(ctx context.Context, at time.Time) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("jobs: sweep enqueuer is not configured")
	}
	_, err := e.enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID:          JobIDSweepClaims,
		IdempotencyKey: fmt.Sprintf("%s:%s", JobIDSweepClaims, at.UTC().Truncate(time.Minute).Format(time.RFC3339)),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	})
	return err
}

// SweepHandler executes queued sweep messages against the janitor.
type SweepHandler struct {
	janitor *Janitor
}

func NewSweepHandler(janitor *Janitor) *SweepHandler {
	return &SweepHandler{janitor: janitor}
}

func (h *SweepHandler) Handle(ctx context.Context, msg *job.ExecutionMessage) error {
	if h == nil || h.janitor == nil {
		return fmt.Errorf("jobs: sweep handler is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDSweepClaims {
		return fmt.Errorf("jobs: unexpected job id %q", jobID(msg))
	}
	_, err := h.janitor.Sweep(ctx)
	return err
}

func jobID(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID
}
