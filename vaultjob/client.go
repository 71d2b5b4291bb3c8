package vaultjob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-vault-bridge/core"
)

// Options tunes the submit/poll cycle. Zero values fall back to the
// defaults below.
type Options struct {
	BaseURL         string
	InitialDelay    time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	PollMultiplier  float64
	MaxPollAttempts int
}

const (
	defaultInitialDelay    = 500 * time.Millisecond
	defaultPollInterval    = time.Second
	defaultMaxPollInterval = 5 * time.Second
	defaultPollMultiplier  = 1.5
	defaultMaxPollAttempts = 60
)

// Client submits vault commands to the remote job queue and polls until
// the job reaches a terminal state. It deliberately does not reuse the
// generic retry executor: terminal states are domain-specific, not a
// transient/fatal classification.
type Client struct {
	transport core.TransportAdapter
	options   Options
	logger    core.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewClient(transport core.TransportAdapter, options Options, logger core.Logger) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("vaultjob: transport adapter is required")
	}
	if strings.TrimSpace(options.BaseURL) == "" {
		return nil, fmt.Errorf("vaultjob: base url is required")
	}
	options.BaseURL = strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if options.InitialDelay <= 0 {
		options.InitialDelay = defaultInitialDelay
	}
	if options.PollInterval <= 0 {
		options.PollInterval = defaultPollInterval
	}
	if options.MaxPollInterval <= 0 {
		options.MaxPollInterval = defaultMaxPollInterval
	}
	if options.PollMultiplier < 1 {
		options.PollMultiplier = defaultPollMultiplier
	}
	if options.MaxPollAttempts <= 0 {
		options.MaxPollAttempts = defaultMaxPollAttempts
	}
	return &Client{
		transport: transport,
		options:   options,
		logger:    glog.Ensure(logger),
		sleep:     sleepContext,
	}, nil
}

type submitResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type statusResponse struct {
	RequestID   string `json:"request_id"`
	Command     string `json:"command"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
}

// Submit posts a command to the queue and returns the server-assigned
// request id. Queue-full (503) and rate-limited (429) responses surface as
// distinct conditions; the caller decides whether to retry.
func (c *Client) Submit(ctx context.Context, command string, attachment []byte) (string, error) {
	if c == nil || c.transport == nil {
		return "", fmt.Errorf("vaultjob: client is not configured")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return "", core.NewBridgeError("vaultjob: command is required", goerrors.CategoryBadInput, core.BridgeErrorBadPayload)
	}

	payload := map[string]any{"command": command}
	if len(attachment) > 0 {
		payload["filedata"] = string(attachment)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("vaultjob: encode submit payload: %w", err)
	}

	res, err := c.transport.Do(ctx, core.TransportRequest{
		Method:  http.MethodPost,
		URL:     c.options.BaseURL + "/executecommand-async",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		return "", err
	}

	switch res.StatusCode {
	case http.StatusServiceUnavailable:
		return "", core.NewBridgeError(
			"vaultjob: command queue is full",
			goerrors.CategoryExternal,
			core.BridgeErrorQueueFull,
		).WithCode(http.StatusServiceUnavailable)
	case http.StatusTooManyRequests:
		return "", core.NewBridgeError(
			"vaultjob: command queue rate limited the request",
			goerrors.CategoryRateLimit,
			core.BridgeErrorUpstreamThrottled,
		)
	}

	var parsed submitResponse
	if unmarshalErr := json.Unmarshal(res.Body, &parsed); unmarshalErr != nil && len(res.Body) > 0 {
		parsed = submitResponse{Message: string(res.Body)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 || !parsed.Success {
		message := CleanCLIMessage(parsed.Message)
		if message == "" {
			message = fmt.Sprintf("submission rejected with status %d", res.StatusCode)
		}
		return "", core.NewBridgeError(
			"vaultjob: "+message,
			goerrors.CategoryExternal,
			core.BridgeErrorJobFailed,
		)
	}
	requestID := strings.TrimSpace(parsed.RequestID)
	if requestID == "" {
		return "", core.NewBridgeError(
			"vaultjob: queue accepted the command without a request id",
			goerrors.CategoryExternal,
			core.BridgeErrorJobFailed,
		)
	}
	c.logger.Debug("command submitted", "request_id", requestID)
	return requestID, nil
}

// Status fetches the queue's view of a submitted job.
func (c *Client) Status(ctx context.Context, requestID string) (core.AsyncJob, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return core.AsyncJob{}, fmt.Errorf("vaultjob: request id is required")
	}
	res, err := c.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodGet,
		URL:    c.options.BaseURL + "/status/" + requestID,
	})
	if err != nil {
		return core.AsyncJob{}, err
	}
	if res.StatusCode == http.StatusNotFound {
		return core.AsyncJob{}, notFoundError(requestID)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return core.AsyncJob{}, core.NewBridgeError(
			fmt.Sprintf("vaultjob: status lookup for %q failed with %d", requestID, res.StatusCode),
			goerrors.CategoryExternal,
			core.BridgeErrorJobFailed,
		)
	}
	var parsed statusResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return core.AsyncJob{}, fmt.Errorf("vaultjob: decode status response: %w", err)
	}
	job := core.AsyncJob{
		RequestID: parsed.RequestID,
		Command:   parsed.Command,
		Status:    core.JobStatus(strings.ToLower(strings.TrimSpace(parsed.Status))),
	}
	job.SubmittedAt = parseTimestamp(parsed.CreatedAt)
	job.StartedAt = parseTimestamp(parsed.StartedAt)
	job.CompletedAt = parseTimestamp(parsed.CompletedAt)
	if job.RequestID == "" {
		job.RequestID = requestID
	}
	return job, nil
}

// Result fetches the result document of a completed job.
func (c *Client) Result(ctx context.Context, requestID string) (map[string]any, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("vaultjob: request id is required")
	}
	res, err := c.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodGet,
		URL:    c.options.BaseURL + "/result/" + requestID,
	})
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, notFoundError(requestID)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, core.NewBridgeError(
			fmt.Sprintf("vaultjob: result lookup for %q failed with %d", requestID, res.StatusCode),
			goerrors.CategoryExternal,
			core.BridgeErrorJobFailed,
		)
	}
	result := map[string]any{}
	if len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, &result); err != nil {
			return nil, fmt.Errorf("vaultjob: decode result document: %w", err)
		}
	}
	return result, nil
}

// pollState tracks the explicit wait/poll loop. The sleep between states is
// the only suspension point.
type pollState int

const (
	stateSubmitted pollState = iota
	statePolling
	stateCompleted
	stateFailed
	stateTimedOut
)

// PollUntilTerminal waits the initial delay, then polls status with a
// growing interval until the job terminates or the attempt budget runs out.
func (c *Client) PollUntilTerminal(ctx context.Context, requestID string) (map[string]any, error) {
	if c == nil || c.transport == nil {
		return nil, fmt.Errorf("vaultjob: client is not configured")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("vaultjob: request id is required")
	}

	state := stateSubmitted
	interval := c.options.PollInterval
	attempt := 0
	var job core.AsyncJob

	for {
		switch state {
		case stateSubmitted:
			if err := c.sleep(ctx, c.options.InitialDelay); err != nil {
				return nil, err
			}
			state = statePolling

		case statePolling:
			if attempt >= c.options.MaxPollAttempts {
				state = stateTimedOut
				continue
			}
			attempt++
			fetched, err := c.Status(ctx, requestID)
			if err != nil {
				return nil, err
			}
			job = fetched
			switch job.Status {
			case core.JobStatusCompleted:
				state = stateCompleted
			case core.JobStatusFailed, core.JobStatusExpired:
				state = stateFailed
			default:
				if err := c.sleep(ctx, interval); err != nil {
					return nil, err
				}
				interval = time.Duration(float64(interval) * c.options.PollMultiplier)
				if interval > c.options.MaxPollInterval {
					interval = c.options.MaxPollInterval
				}
			}

		case stateCompleted:
			return c.Result(ctx, requestID)

		case stateFailed:
			return nil, core.NewBridgeError(
				fmt.Sprintf("vaultjob: job %q reached terminal status %q", requestID, job.Status),
				goerrors.CategoryExternal,
				core.BridgeErrorJobFailed,
			).WithMetadata(map[string]any{"request_id": requestID, "status": string(job.Status)})

		case stateTimedOut:
			return nil, core.NewBridgeError(
				fmt.Sprintf(
					"vaultjob: job %q did not finish within %d polls; it may still be processing server-side",
					requestID,
					c.options.MaxPollAttempts,
				),
				goerrors.CategoryExternal,
				core.BridgeErrorJobTimeout,
			).WithCode(http.StatusGatewayTimeout).
				WithMetadata(map[string]any{"request_id": requestID})
		}
	}
}

// Execute submits a command and blocks until its result is available.
func (c *Client) Execute(ctx context.Context, command string, attachment []byte) (map[string]any, error) {
	requestID, err := c.Submit(ctx, command, attachment)
	if err != nil {
		return nil, err
	}
	return c.PollUntilTerminal(ctx, requestID)
}

func notFoundError(requestID string) error {
	return core.NewBridgeError(
		fmt.Sprintf("vaultjob: job %q was not found and may have expired", requestID),
		goerrors.CategoryNotFound,
		core.BridgeErrorJobNotFound,
	).WithMetadata(map[string]any{"request_id": requestID})
}

func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
