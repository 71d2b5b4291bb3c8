package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-vault-bridge/core"
)

// SettingsKey addresses the endpoint configuration record in shared
// storage. A missing record disables the endpoint.
const SettingsKey = "webhook-config"

// Event constants for the single alert pair the bridge acts on.
const (
	EventCategory   = "endpoint_privilege_manager"
	EventAuditEvent = "approval_request_created"
)

// Delivery outcomes recorded in the audit ring.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Settings is the operator-managed endpoint configuration stored under
// SettingsKey. Zero tuning fields fall back to the service defaults.
type Settings struct {
	Secret             string `json:"secret"`
	ProjectKey         string `json:"project_key"`
	IssueType          string `json:"issue_type,omitempty"`
	DefaultAssignee    string `json:"default_assignee,omitempty"`
	MaxRequestsPerHour int    `json:"max_requests_per_hour,omitempty"`
	MaxBodyBytes       int    `json:"max_body_bytes,omitempty"`
}

// Delivery is one inbound webhook request, transport already stripped.
type Delivery struct {
	Headers map[string]string
	Body    []byte
}

// Result is what the HTTP boundary writes back: a status, response
// headers, and a structured JSON payload.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Payload    map[string]any
}

// Dependencies wires a Pipeline. Store should already be wrapped for
// retries; Details and Assignees are optional.
type Dependencies struct {
	Store     core.KVStore
	Tickets   core.TicketService
	Details   core.DetailFetcher
	Assignees core.AssigneeResolver
	Logger    core.Logger
	Defaults  core.WebhookConfig
	Window    time.Duration
}

// Pipeline turns vault alert deliveries into tracker tickets exactly once
// per logical event. Every cross-delivery decision (rate limit, duplicate
// claim, audit) lives in the shared store so any node can serve any
// delivery.
type Pipeline struct {
	store     core.KVStore
	tickets   core.TicketService
	details   core.DetailFetcher
	assignees core.AssigneeResolver
	audit     *AuditLog
	logger    core.Logger
	defaults  core.WebhookConfig
	window    time.Duration

	// Now is injectable for tests.
	Now func() time.Time
}

func NewPipeline(deps Dependencies) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("webhook: store is required")
	}
	if deps.Tickets == nil {
		return nil, fmt.Errorf("webhook: ticket service is required")
	}
	window := deps.Window
	if window <= 0 {
		window = time.Hour
	}
	pipeline := &Pipeline{
		store:     deps.Store,
		tickets:   deps.Tickets,
		details:   deps.Details,
		assignees: deps.Assignees,
		audit:     NewAuditLog(deps.Store),
		logger:    glog.Ensure(deps.Logger),
		defaults:  deps.Defaults,
		window:    window,
		Now:       func() time.Time { return time.Now().UTC() },
	}
	return pipeline, nil
}

// Process runs the full admission and fulfillment sequence for one
// delivery. The returned Result is always writable; the error mirrors the
// terminal failure for callers that log or propagate it.
func (p *Pipeline) Process(ctx context.Context, delivery Delivery) (Result, error) {
	if p == nil || p.store == nil {
		return p.reject(http.StatusInternalServerError, core.BridgeErrorInternal, "pipeline is not configured"),
			fmt.Errorf("webhook: pipeline is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	settings, res, err := p.loadSettings(ctx)
	if err != nil {
		return res, err
	}

	token, tokenErr := ExtractBearer(headerValue(delivery.Headers, "Authorization"))
	if tokenErr != nil || !VerifyToken(token, settings.Secret) {
		return p.reject(http.StatusUnauthorized, core.BridgeErrorUnauthorized, "invalid webhook token"),
			core.NewBridgeError("invalid webhook token", goerrors.CategoryAuth, core.BridgeErrorUnauthorized)
	}

	limiter := NewSlidingWindowLimiter(p.store, settings.MaxRequestsPerHour, p.window)
	limiter.now = p.now
	decision, err := limiter.Allow(ctx, SourceID(delivery.Headers))
	if err != nil {
		return p.internalResult(err), err
	}
	if !decision.Allowed {
		res := p.reject(http.StatusTooManyRequests, core.BridgeErrorRateLimited, "rate limit exceeded")
		res.Headers = rateLimitHeaders(settings.MaxRequestsPerHour, decision)
		res.Payload["reset_at"] = decision.ResetAt.Format(time.RFC3339)
		return res, core.NewBridgeError("rate limit exceeded", goerrors.CategoryRateLimit, core.BridgeErrorRateLimited)
	}

	if len(delivery.Body) > settings.MaxBodyBytes {
		return p.reject(http.StatusRequestEntityTooLarge, core.BridgeErrorPayloadTooLarge,
				fmt.Sprintf("payload exceeds %d bytes", settings.MaxBodyBytes)),
			core.NewBridgeError("payload too large", goerrors.CategoryBadInput, core.BridgeErrorPayloadTooLarge)
	}

	event, res, err := parseEvent(delivery.Body)
	if err != nil {
		return res, err
	}

	if event.Category != EventCategory || event.AuditEvent != EventAuditEvent {
		p.logger.Debug("delivery skipped",
			"category", event.Category,
			"audit_event", event.AuditEvent,
		)
		return p.skipped(decision, settings.MaxRequestsPerHour), nil
	}

	if event.RequestUID == "" {
		return p.reject(http.StatusBadRequest, core.BridgeErrorBadPayload, "request_uid is required"),
			core.NewBridgeError("request_uid is required", goerrors.CategoryBadInput, core.BridgeErrorBadPayload)
	}

	claimKey := core.ClaimKey(event.RequestUID)
	claimed, existing, res, err := p.claim(ctx, claimKey, event)
	if err != nil {
		return res, err
	}
	if !claimed {
		p.appendAudit(ctx, event.RequestUID, existing.IssueKey, OutcomeDuplicate, "duplicate delivery")
		return p.duplicate(existing, decision, settings.MaxRequestsPerHour), nil
	}

	ticket, err := p.fulfill(ctx, settings, event)
	if err != nil {
		p.cleanupClaim(ctx, claimKey)
		p.appendAudit(ctx, event.RequestUID, "", OutcomeFailed, err.Error())
		rich := core.BridgeErrorMapper(err)
		return p.rejectRich(rich), err
	}

	p.appendAudit(ctx, event.RequestUID, ticket.Key, OutcomeCreated, "ticket created")
	res = Result{
		StatusCode: http.StatusOK,
		Headers:    rateLimitHeaders(settings.MaxRequestsPerHour, decision),
		Payload: map[string]any{
			"success":   true,
			"duplicate": false,
			"issue_key": ticket.Key,
			"message":   "ticket created",
		},
	}
	return res, nil
}

// AuditTrail reads the delivery audit ring, newest first.
func (p *Pipeline) AuditTrail(ctx context.Context) ([]core.AuditEntry, error) {
	if p == nil {
		return nil, fmt.Errorf("webhook: pipeline is not configured")
	}
	return p.audit.Entries(ctx)
}

func (p *Pipeline) loadSettings(ctx context.Context) (Settings, Result, error) {
	raw, err := p.store.Get(ctx, SettingsKey)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return Settings{}, p.reject(http.StatusBadRequest, core.BridgeErrorNotConfigured, "webhook is not configured"),
				core.NewBridgeError("webhook is not configured", goerrors.CategoryBadInput, core.BridgeErrorNotConfigured)
		}
		return Settings{}, p.internalResult(err), err
	}

	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		wrapped := fmt.Errorf("webhook: decode settings: %w", err)
		return Settings{}, p.internalResult(wrapped), wrapped
	}
	if strings.TrimSpace(settings.Secret) == "" || strings.TrimSpace(settings.ProjectKey) == "" {
		return Settings{}, p.reject(http.StatusBadRequest, core.BridgeErrorNotConfigured, "webhook is not configured"),
			core.NewBridgeError("webhook is not configured", goerrors.CategoryBadInput, core.BridgeErrorNotConfigured)
	}

	if settings.MaxRequestsPerHour <= 0 {
		settings.MaxRequestsPerHour = p.defaults.MaxRequestsPerHour
	}
	if settings.MaxRequestsPerHour <= 0 {
		settings.MaxRequestsPerHour = 50
	}
	if settings.MaxBodyBytes <= 0 {
		settings.MaxBodyBytes = p.defaults.MaxBodyBytes
	}
	if settings.MaxBodyBytes <= 0 {
		settings.MaxBodyBytes = 100 * 1024
	}
	if strings.TrimSpace(settings.IssueType) == "" {
		settings.IssueType = p.defaults.IssueType
	}
	if strings.TrimSpace(settings.IssueType) == "" {
		settings.IssueType = "Task"
	}
	return settings, Result{}, nil
}

func parseEvent(body []byte) (core.AlertEvent, Result, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		rich := core.NewBridgeError("malformed JSON payload", goerrors.CategoryBadInput, core.BridgeErrorBadPayload)
		return core.AlertEvent{}, rejectStatic(http.StatusBadRequest, core.BridgeErrorBadPayload, "malformed JSON payload"), rich
	}

	event := core.AlertEvent{Raw: raw}
	for _, field := range []struct {
		name   string
		target *string
	}{
		{"category", &event.Category},
		{"audit_event", &event.AuditEvent},
		{"request_uid", &event.RequestUID},
	} {
		value, present := raw[field.name]
		if !present || value == nil {
			continue
		}
		text, ok := value.(string)
		if !ok {
			message := fmt.Sprintf("field %q must be a string", field.name)
			rich := core.NewBridgeError(message, goerrors.CategoryBadInput, core.BridgeErrorBadPayload)
			return core.AlertEvent{}, rejectStatic(http.StatusBadRequest, core.BridgeErrorBadPayload, message), rich
		}
		*field.target = strings.TrimSpace(text)
	}
	return event, Result{}, nil
}

// claim acquires the idempotency record for the event. It reports whether
// this delivery won the claim; on loss it returns what is known about the
// existing claim.
func (p *Pipeline) claim(ctx context.Context, claimKey string, event core.AlertEvent) (bool, core.DuplicateClaim, Result, error) {
	raw, err := p.store.Get(ctx, claimKey)
	if err == nil {
		var existing core.DuplicateClaim
		if jsonErr := json.Unmarshal(raw, &existing); jsonErr != nil {
			existing = core.DuplicateClaim{IssueKey: core.ClaimStatusProcessing}
		}
		return false, existing, Result{}, nil
	}
	if !errors.Is(err, core.ErrKeyNotFound) {
		return false, core.DuplicateClaim{}, p.internalResult(err), err
	}

	// No local claim. The tracker is the fallback source of truth: if a
	// labeled ticket already exists the claim store was cleared after
	// creation, so rebuild the record instead of opening a second ticket.
	if ticket, found, findErr := p.tickets.FindByLabel(ctx, TicketLabel(event.RequestUID)); findErr != nil {
		p.logger.Warn("duplicate lookup against tracker failed",
			"request_uid", event.RequestUID,
			"error", findErr.Error(),
		)
	} else if found {
		existing := core.DuplicateClaim{IssueKey: ticket.Key, IssueID: ticket.ID, CreatedAt: p.now()}
		if putErr := p.putClaim(ctx, claimKey, existing); putErr != nil {
			p.logger.Warn("claim backfill failed", "request_uid", event.RequestUID, "error", putErr.Error())
		}
		return false, existing, Result{}, nil
	}

	placeholder := core.DuplicateClaim{
		IssueKey:  core.ClaimStatusProcessing,
		IssueID:   core.ClaimStatusProcessing,
		CreatedAt: p.now(),
	}
	encoded, err := json.Marshal(placeholder)
	if err != nil {
		return false, core.DuplicateClaim{}, p.internalResult(err), err
	}
	won, err := p.store.PutIfAbsent(ctx, claimKey, encoded)
	if err != nil {
		return false, core.DuplicateClaim{}, p.internalResult(err), err
	}
	if !won {
		// Lost the conditional write to a concurrent delivery.
		return false, placeholder, Result{}, nil
	}
	return true, core.DuplicateClaim{}, Result{}, nil
}

// fulfill runs the side-effecting half of the pipeline after the claim is
// held: enrichment, ticket creation, claim finalization, assignment.
func (p *Pipeline) fulfill(ctx context.Context, settings Settings, event core.AlertEvent) (core.Ticket, error) {
	var details map[string]any
	if p.details != nil {
		fetched, err := p.details.Fetch(ctx, event.RequestUID)
		if err != nil {
			p.logger.Warn("detail fetch failed, creating ticket without enrichment",
				"request_uid", event.RequestUID,
				"error", err.Error(),
			)
		} else {
			details = fetched
		}
	}

	ticket, err := p.tickets.Create(ctx, core.CreateTicketInput{
		ProjectKey:  settings.ProjectKey,
		IssueType:   settings.IssueType,
		Summary:     fmt.Sprintf("Privilege approval request %s", event.RequestUID),
		Description: renderDescription(event, details),
		Labels:      []string{TicketLabel(event.RequestUID)},
	})
	if err != nil {
		return core.Ticket{}, err
	}

	finalized := core.DuplicateClaim{IssueKey: ticket.Key, IssueID: ticket.ID, CreatedAt: p.now()}
	if err := p.putClaim(ctx, core.ClaimKey(event.RequestUID), finalized); err != nil {
		// The ticket exists but the claim does not record it. Failing here
		// lets cleanup drop the placeholder; re-delivery recovers through
		// the tracker label lookup.
		return core.Ticket{}, fmt.Errorf("webhook: finalize claim for %s: %w", event.RequestUID, err)
	}

	p.assignTicket(ctx, settings, event, ticket)
	return ticket, nil
}

func (p *Pipeline) assignTicket(ctx context.Context, settings Settings, event core.AlertEvent, ticket core.Ticket) {
	accountID := settings.DefaultAssignee
	if p.assignees != nil {
		resolved, err := p.assignees.Resolve(ctx, event)
		if err != nil {
			p.logger.Warn("assignee resolution failed", "request_uid", event.RequestUID, "error", err.Error())
		} else if strings.TrimSpace(resolved) != "" {
			accountID = resolved
		}
	}
	if strings.TrimSpace(accountID) == "" {
		return
	}
	if err := p.tickets.Assign(ctx, ticket.Key, accountID); err != nil {
		p.logger.Warn("ticket assignment failed",
			"issue_key", ticket.Key,
			"account_id", accountID,
			"error", err.Error(),
		)
	}
}

// cleanupClaim drops the placeholder claim after a fulfillment failure so a
// retry can run. Finalized claims are never touched.
func (p *Pipeline) cleanupClaim(ctx context.Context, claimKey string) {
	raw, err := p.store.Get(ctx, claimKey)
	if err != nil {
		return
	}
	var claim core.DuplicateClaim
	if err := json.Unmarshal(raw, &claim); err == nil && claim.Finalized() {
		return
	}
	if err := p.store.Delete(ctx, claimKey); err != nil {
		p.logger.Warn("claim cleanup failed", "key", claimKey, "error", err.Error())
	}
}

func (p *Pipeline) putClaim(ctx context.Context, claimKey string, claim core.DuplicateClaim) error {
	encoded, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("webhook: encode claim: %w", err)
	}
	return p.store.Put(ctx, claimKey, encoded)
}

func (p *Pipeline) appendAudit(ctx context.Context, requestUID, issueKey, outcome, message string) {
	entry := core.AuditEntry{
		RequestUID: requestUID,
		IssueKey:   issueKey,
		Outcome:    outcome,
		Message:    message,
		CreatedAt:  p.now(),
	}
	if err := p.audit.Append(ctx, entry); err != nil {
		p.logger.Warn("audit append failed", "request_uid", requestUID, "error", err.Error())
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) skipped(decision RateLimitDecision, limit int) Result {
	return Result{
		StatusCode: http.StatusOK,
		Headers:    rateLimitHeaders(limit, decision),
		Payload: map[string]any{
			"success": true,
			"skipped": true,
			"message": "event ignored",
		},
	}
}

func (p *Pipeline) duplicate(existing core.DuplicateClaim, decision RateLimitDecision, limit int) Result {
	payload := map[string]any{
		"success":   true,
		"duplicate": true,
		"message":   "delivery already processed",
	}
	if existing.Finalized() {
		payload["issue_key"] = existing.IssueKey
	} else {
		payload["message"] = "delivery is being processed"
	}
	return Result{
		StatusCode: http.StatusOK,
		Headers:    rateLimitHeaders(limit, decision),
		Payload:    payload,
	}
}

func (p *Pipeline) reject(status int, textCode, message string) Result {
	return rejectStatic(status, textCode, message)
}

func (p *Pipeline) rejectRich(rich *goerrors.Error) Result {
	status := rich.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	res := rejectStatic(status, rich.TextCode, rich.Message)
	res.Payload["category"] = string(rich.Category)
	return res
}

func (p *Pipeline) internalResult(err error) Result {
	p.logger.Error("delivery processing failed", "error", err.Error())
	return rejectStatic(http.StatusInternalServerError, core.BridgeErrorInternal, "internal error")
}

func rejectStatic(status int, textCode, message string) Result {
	return Result{
		StatusCode: status,
		Payload: map[string]any{
			"success": false,
			"error":   message,
			"code":    textCode,
		},
	}
}

func rateLimitHeaders(limit int, decision RateLimitDecision) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(limit),
		"X-RateLimit-Remaining": strconv.Itoa(decision.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(decision.ResetAt.Unix(), 10),
	}
}

// TicketLabel derives the tracker label that binds a ticket to its source
// event. It doubles as the duplicate-recovery lookup key.
func TicketLabel(requestUID string) string {
	return "vault-" + core.SanitizeIdentifier(requestUID)
}

// renderDescription flattens the event and any fetched record details into
// a readable ticket body. Keys are sorted so output is deterministic.
func renderDescription(event core.AlertEvent, details map[string]any) string {
	var b strings.Builder
	b.WriteString("Privilege elevation approval requested.\n\n")
	b.WriteString("Event:\n")
	writeSortedFields(&b, event.Raw)
	if len(details) > 0 {
		b.WriteString("\nRecord details:\n")
		writeSortedFields(&b, details)
	}
	return b.String()
}

func writeSortedFields(b *strings.Builder, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(b, "  %s: %v\n", key, fields[key])
	}
}
