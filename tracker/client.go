package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-vault-bridge/core"
	"github.com/goliatone/go-vault-bridge/retry"
)

// Options configures the tracker REST client.
type Options struct {
	BaseURL string
	Policy  retry.Policy
}

// Client talks to the issue tracker's REST API. Every call runs through
// the shared retry executor so 429/503 responses and transport blips are
// absorbed up to budget.
type Client struct {
	transport core.TransportAdapter
	executor  *retry.Executor
	baseURL   string
	logger    core.Logger
}

func NewClient(transport core.TransportAdapter, options Options, logger core.Logger) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("tracker: transport adapter is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("tracker: base url is required")
	}
	policy := options.Policy
	if policy.InitialDelay == 0 && policy.MaxRetries == 0 {
		policy = retry.DefaultPolicy()
	}
	executor := retry.NewExecutor(policy, retry.AlwaysTransient)
	executor.Logger = glog.Ensure(logger)
	return &Client{
		transport: transport,
		executor:  executor,
		baseURL:   baseURL,
		logger:    glog.Ensure(logger),
	}, nil
}

type issueDocument struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

type searchResult struct {
	Issues []issueDocument `json:"issues"`
}

// FindByLabel looks up an existing issue carrying the given label. Used to
// recover duplicate claims when the claim store was cleared but the ticket
// survived.
func (c *Client) FindByLabel(ctx context.Context, label string) (core.Ticket, bool, error) {
	if c == nil || c.transport == nil {
		return core.Ticket{}, false, fmt.Errorf("tracker: client is not configured")
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return core.Ticket{}, false, fmt.Errorf("tracker: label is required")
	}

	res, err := c.executor.Do(ctx, "tracker.search", func(ctx context.Context) (core.TransportResponse, error) {
		return c.transport.Do(ctx, core.TransportRequest{
			Method: http.MethodGet,
			URL:    c.baseURL + "/rest/api/2/search",
			Query: map[string]string{
				"jql":        fmt.Sprintf("labels = %q", label),
				"maxResults": "1",
				"fields":     "key",
			},
		})
	})
	if err != nil {
		return core.Ticket{}, false, err
	}
	if res.StatusCode != http.StatusOK {
		return core.Ticket{}, false, responseError("tracker: issue search failed", res)
	}
	var parsed searchResult
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return core.Ticket{}, false, fmt.Errorf("tracker: decode search result: %w", err)
	}
	if len(parsed.Issues) == 0 {
		return core.Ticket{}, false, nil
	}
	issue := parsed.Issues[0]
	return core.Ticket{ID: issue.ID, Key: issue.Key}, true, nil
}

// Create opens one issue and returns its identifiers.
func (c *Client) Create(ctx context.Context, in core.CreateTicketInput) (core.Ticket, error) {
	if c == nil || c.transport == nil {
		return core.Ticket{}, fmt.Errorf("tracker: client is not configured")
	}
	if strings.TrimSpace(in.ProjectKey) == "" {
		return core.Ticket{}, fmt.Errorf("tracker: project key is required")
	}
	if strings.TrimSpace(in.Summary) == "" {
		return core.Ticket{}, fmt.Errorf("tracker: summary is required")
	}

	fields := map[string]any{
		"project":     map[string]any{"key": in.ProjectKey},
		"issuetype":   map[string]any{"name": in.IssueType},
		"summary":     in.Summary,
		"description": in.Description,
	}
	if len(in.Labels) > 0 {
		fields["labels"] = in.Labels
	}
	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return core.Ticket{}, fmt.Errorf("tracker: encode issue payload: %w", err)
	}

	res, err := c.executor.Do(ctx, "tracker.create", func(ctx context.Context) (core.TransportResponse, error) {
		return c.transport.Do(ctx, core.TransportRequest{
			Method:  http.MethodPost,
			URL:     c.baseURL + "/rest/api/2/issue",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    body,
		})
	})
	if err != nil {
		return core.Ticket{}, err
	}
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return core.Ticket{}, responseError("tracker: issue creation failed", res)
	}
	var issue issueDocument
	if err := json.Unmarshal(res.Body, &issue); err != nil {
		return core.Ticket{}, fmt.Errorf("tracker: decode created issue: %w", err)
	}
	if strings.TrimSpace(issue.Key) == "" {
		return core.Ticket{}, core.NewBridgeError(
			"tracker: create response did not include an issue key",
			goerrors.CategoryExternal,
			core.BridgeErrorTicketCreate,
		)
	}
	c.logger.Debug("issue created", "issue_key", issue.Key)
	return core.Ticket{ID: issue.ID, Key: issue.Key}, nil
}

// Assign sets the issue's assignee.
func (c *Client) Assign(ctx context.Context, issueKey string, accountID string) error {
	if c == nil || c.transport == nil {
		return fmt.Errorf("tracker: client is not configured")
	}
	issueKey = strings.TrimSpace(issueKey)
	accountID = strings.TrimSpace(accountID)
	if issueKey == "" || accountID == "" {
		return fmt.Errorf("tracker: issue key and account id are required")
	}

	body, err := json.Marshal(map[string]any{"accountId": accountID})
	if err != nil {
		return fmt.Errorf("tracker: encode assignee payload: %w", err)
	}
	res, err := c.executor.Do(ctx, "tracker.assign", func(ctx context.Context) (core.TransportResponse, error) {
		return c.transport.Do(ctx, core.TransportRequest{
			Method:  http.MethodPut,
			URL:     c.baseURL + "/rest/api/2/issue/" + issueKey + "/assignee",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    body,
		})
	})
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		return responseError("tracker: assignment failed", res)
	}
	return nil
}

func responseError(message string, res core.TransportResponse) error {
	category := goerrors.CategoryExternal
	textCode := core.BridgeErrorTicketCreate
	if res.StatusCode == http.StatusTooManyRequests {
		category = goerrors.CategoryRateLimit
		textCode = core.BridgeErrorUpstreamThrottled
	}
	detail := strings.TrimSpace(string(res.Body))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	err := core.NewBridgeError(
		fmt.Sprintf("%s with status %d", message, res.StatusCode),
		category,
		textCode,
	).WithCode(res.StatusCode)
	if detail != "" {
		err = err.WithMetadata(map[string]any{"body": detail})
	}
	return err
}

var _ core.TicketService = (*Client)(nil)
