package core

import (
	"strings"
	"time"
)

// JobStatus is the remote queue's view of a submitted vault command.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusExpired    JobStatus = "expired"
)

// Terminal reports whether the queue will never transition the job again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusExpired:
		return true
	}
	return false
}

// AsyncJob mirrors the queue's status document. The client only ever reads
// it; all mutation happens server-side.
type AsyncJob struct {
	RequestID   string
	Command     string
	Status      JobStatus
	SubmittedAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ClaimStatusProcessing is the sentinel stored in a DuplicateClaim before a
// ticket exists for the delivery.
const ClaimStatusProcessing = "processing"

// DuplicateClaim is the idempotency record for one logical webhook event.
// It is written with the processing sentinel before any side effect and
// finalized with real ticket identifiers after creation succeeds.
type DuplicateClaim struct {
	IssueKey  string    `json:"issue_key"`
	IssueID   string    `json:"issue_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Finalized reports whether the claim points at a created ticket.
func (c DuplicateClaim) Finalized() bool {
	return c.IssueKey != "" && c.IssueKey != ClaimStatusProcessing
}

// RateLimitWindow is the per-source sliding window persisted in shared
// storage. Requests holds the accepted timestamps inside the window,
// oldest first.
type RateLimitWindow struct {
	WindowStart time.Time   `json:"window_start"`
	Requests    []time.Time `json:"requests"`
}

// AuditEntry is one element of the bounded delivery audit ring.
type AuditEntry struct {
	ID         string    `json:"id"`
	RequestUID string    `json:"request_uid"`
	IssueKey   string    `json:"issue_key,omitempty"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AlertEvent is the schema-validated projection of an inbound delivery.
type AlertEvent struct {
	Category   string
	AuditEvent string
	RequestUID string
	Raw        map[string]any
}

// Ticket identifies an issue created in the tracker.
type Ticket struct {
	ID  string
	Key string
}

// CreateTicketInput carries everything the tracker needs for one issue.
type CreateTicketInput struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description string
	Labels      []string
}

const (
	claimKeyPrefix     = "webhook-processed-"
	rateLimitKeyPrefix = "webhook-ratelimit-"

	// AuditLogKey addresses the shared audit ring buffer.
	AuditLogKey = "webhook-audit-log"
)

// ClaimKey derives the storage key for a delivery's duplicate claim. The
// request identifier is sanitized first so external input cannot escape the
// key namespace.
func ClaimKey(requestUID string) string {
	return claimKeyPrefix + SanitizeIdentifier(requestUID)
}

// RateLimitKey derives the storage key for a source's sliding window.
func RateLimitKey(sourceID string) string {
	return rateLimitKeyPrefix + SanitizeIdentifier(sourceID)
}

// SanitizeIdentifier reduces an external identifier to a label-safe charset:
// letters, digits, dash and underscore. Everything else collapses to a dash.
func SanitizeIdentifier(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
