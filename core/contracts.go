package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Logger is the shared structured logging contract.
type Logger = glog.Logger

// LoggerProvider resolves named loggers.
type LoggerProvider = glog.LoggerProvider

// FieldsLogger is implemented by loggers that can bind default fields.
type FieldsLogger interface {
	WithFields(fields map[string]any) Logger
}

// ErrKeyNotFound is returned by KVStore.Get when no value exists for a key.
var ErrKeyNotFound = errors.New("core: key not found")

// KVStore is the external shared key-value store. It is the only piece of
// cross-delivery mutable state besides the tracker itself, so every
// implementation must be safe for concurrent callers.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes only when the key has no value yet and reports
	// whether this call won. It is the conditional-write primitive behind
	// the duplicate-claim guarantee.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
}

// KeyLister is implemented by stores that can enumerate keys by prefix.
// The claim janitor depends on it to find stale processing claims.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// TransportRequest describes one outbound HTTP call.
type TransportRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
	Timeout time.Duration
}

// TransportResponse is the adapter-normalized view of an HTTP response.
type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// TransportAdapter executes outbound requests against a remote backend.
type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// TicketService is the issue-tracker surface the pipeline depends on.
type TicketService interface {
	FindByLabel(ctx context.Context, label string) (Ticket, bool, error)
	Create(ctx context.Context, in CreateTicketInput) (Ticket, error)
	Assign(ctx context.Context, issueKey string, accountID string) error
}

// DetailFetcher enriches ticket content with detailed record data. It may
// trigger a remote sync-and-retry sequence of its own; failures degrade the
// ticket body and never abort a delivery.
type DetailFetcher interface {
	Fetch(ctx context.Context, requestUID string) (map[string]any, error)
}

// AssigneeResolver maps an alert event to the responsible party's tracker
// account. Resolution failures are non-fatal.
type AssigneeResolver interface {
	Resolve(ctx context.Context, event AlertEvent) (string, error)
}
