package vaultjob

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-vault-bridge/core"
)

type fakeTransport struct {
	responses map[string][]core.TransportResponse
	calls     []core.TransportRequest
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: map[string][]core.TransportResponse{}}
}

func (f *fakeTransport) Kind() string { return "fake" }

func (f *fakeTransport) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	f.calls = append(f.calls, req)
	for pattern, queue := range f.responses {
		if strings.Contains(req.URL, pattern) && len(queue) > 0 {
			res := queue[0]
			f.responses[pattern] = queue[1:]
			return res, nil
		}
	}
	return core.TransportResponse{StatusCode: 500, Body: []byte(`{}`)}, nil
}

func (f *fakeTransport) enqueue(pattern string, res core.TransportResponse) {
	f.responses[pattern] = append(f.responses[pattern], res)
}

func jsonBody(t *testing.T, value any) []byte {
	t.Helper()
	body, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func newTestClient(t *testing.T, transport core.TransportAdapter) *Client {
	t.Helper()
	client, err := NewClient(transport, Options{BaseURL: "https://vault.example/api"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestClient_SubmitReturnsRequestID(t *testing.T) {
	transport := newFakeTransport()
	transport.enqueue("/executecommand-async", core.TransportResponse{
		StatusCode: 200,
		Body:       jsonBody(t, map[string]any{"success": true, "request_id": "req-1", "status": "queued"}),
	})
	client := newTestClient(t, transport)

	requestID, err := client.Submit(context.Background(), "safe list", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if requestID != "req-1" {
		t.Fatalf("expected req-1, got %q", requestID)
	}
}

func TestClient_SubmitQueueFullIsDistinct(t *testing.T) {
	transport := newFakeTransport()
	transport.enqueue("/executecommand-async", core.TransportResponse{StatusCode: 503})
	client := newTestClient(t, transport)

	_, err := client.Submit(context.Background(), "safe list", nil)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %v", err)
	}
	if rich.TextCode != core.BridgeErrorQueueFull {
		t.Fatalf("expected queue-full code, got %s", rich.TextCode)
	}
}

func TestClient_SubmitRateLimitedIsDistinct(t *testing.T) {
	transport := newFakeTransport()
	transport.enqueue("/executecommand-async", core.TransportResponse{StatusCode: 429})
	client := newTestClient(t, transport)

	_, err := client.Submit(context.Background(), "safe list", nil)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %v", err)
	}
	if rich.TextCode != core.BridgeErrorUpstreamThrottled {
		t.Fatalf("expected upstream-throttled code, got %s", rich.TextCode)
	}
}

func TestClient_SubmitFailureCarriesCleanedMessage(t *testing.T) {
	transport := newFakeTransport()
	transport.enqueue("/executecommand-async", core.TransportResponse{
		StatusCode: 400,
		Body: jsonBody(t, map[string]any{
			"success": false,
			"message": "==========\nLoading configuration\nITATS053E Object not found: safe does not exist",
		}),
	})
	client := newTestClient(t, transport)

	_, err := client.Submit(context.Background(), "safe show x", nil)
	if err == nil {
		t.Fatalf("expected submission failure")
	}
	if !strings.Contains(err.Error(), "safe does not exist") {
		t.Fatalf("expected cleaned message, got %q", err.Error())
	}
	if strings.Contains(err.Error(), "Loading configuration") {
		t.Fatalf("banner lines must be stripped, got %q", err.Error())
	}
}

func TestClient_PollingCountsAndResult(t *testing.T) {
	transport := newFakeTransport()
	transport.enqueue("/executecommand-async", core.TransportResponse{
		StatusCode: 200,
		Body:       jsonBody(t, map[string]any{"success": true, "request_id": "req-7"}),
	})
	for _, status := range []string{"queued", "queued", "completed"} {
		transport.enqueue("/status/req-7", core.TransportResponse{
			StatusCode: 200,
			Body:       jsonBody(t, map[string]any{"request_id": "req-7", "status": status}),
		})
	}
	transport.enqueue("/result/req-7", core.TransportResponse{
		StatusCode: 200,
		Body:       jsonBody(t, map[string]any{"output": "ok"}),
	})
	client := newTestClient(t, transport)

	result, err := client.Execute(context.Background(), "safe list", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["output"] != "ok" {
		t.Fatalf("expected result document, got %v", result)
	}

	var submits, statuses, results int
	for _, call := range transport.calls {
		switch {
		case strings.Contains(call.URL, "/executecommand-async"):
			submits++
		case strings.Contains(call.URL, "/status/"):
			statuses++
		case strings.Contains(call.URL, "/result/"):
			results++
		}
	}
	if submits != 1 || statuses != 3 || results != 1 {
		t.Fatalf("expected 1 submit / 3 status / 1 result, got %d/%d/%d", submits, statuses, results)
	}
}

func TestClient_PollFailedStatusNamesRequest(t *testing.T) {
	transport := newFakeTransport()
	transport.enqueue("/status/req-9", core.TransportResponse{
		StatusCode: 200,
		Body:       jsonBody(t, map[string]any{"request_id": "req-9", "status": "failed"}),
	})
	client := newTestClient(t, transport)

	_, err := client.PollUntilTerminal(context.Background(), "req-9")
	if err == nil || !strings.Contains(err.Error(), "req-9") {
		t.Fatalf("expected failure naming request id, got %v", err)
	}
}

func TestClient_PollTimeoutAfterBudget(t *testing.T) {
	transport := newFakeTransport()
	for i := 0; i < 5; i++ {
		transport.enqueue("/status/req-3", core.TransportResponse{
			StatusCode: 200,
			Body:       jsonBody(t, map[string]any{"request_id": "req-3", "status": "processing"}),
		})
	}
	client, err := NewClient(transport, Options{BaseURL: "https://vault.example/api", MaxPollAttempts: 5}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = client.PollUntilTerminal(context.Background(), "req-3")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %v", err)
	}
	if rich.TextCode != core.BridgeErrorJobTimeout {
		t.Fatalf("expected timeout code, got %s", rich.TextCode)
	}
	if !strings.Contains(rich.Message, "may still be processing") {
		t.Fatalf("timeout must state the job may still run server-side, got %q", rich.Message)
	}
}

func TestClient_StatusNotFoundIsDistinctFromExpired(t *testing.T) {
	transport := newFakeTransport()
	transport.enqueue("/status/req-4", core.TransportResponse{StatusCode: 404})
	client := newTestClient(t, transport)

	_, err := client.Status(context.Background(), "req-4")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %v", err)
	}
	if rich.TextCode != core.BridgeErrorJobNotFound {
		t.Fatalf("expected not-found code, got %s", rich.TextCode)
	}
	if !strings.Contains(rich.Message, "may have expired") {
		t.Fatalf("expected not-found/expired wording, got %q", rich.Message)
	}
}

func TestClient_PollIntervalGrowthCapped(t *testing.T) {
	transport := newFakeTransport()
	for i := 0; i < 7; i++ {
		transport.enqueue("/status/req-5", core.TransportResponse{
			StatusCode: 200,
			Body:       jsonBody(t, map[string]any{"request_id": "req-5", "status": "queued"}),
		})
	}
	transport.enqueue("/status/req-5", core.TransportResponse{
		StatusCode: 200,
		Body:       jsonBody(t, map[string]any{"request_id": "req-5", "status": "completed"}),
	})
	transport.enqueue("/result/req-5", core.TransportResponse{
		StatusCode: 200,
		Body:       jsonBody(t, map[string]any{}),
	})
	client := newTestClient(t, transport)

	var slept []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, err := client.PollUntilTerminal(context.Background(), "req-5"); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// First sleep is the fixed initial delay; the rest follow the growth
	// schedule 1000, 1500, 2250, 3375, 5000, 5000, ...
	want := []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %d: %v", len(want), len(slept), slept)
	}
	for i, expected := range want {
		if slept[i] != expected {
			t.Fatalf("sleep %d: expected %s, got %s", i, expected, slept[i])
		}
	}
}

func TestCleanCLIMessage(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "prefers text after last colon",
			in:   "ITATS053E Object not found: safe missing",
			want: "safe missing",
		},
		{
			name: "drops banners and rules",
			in:   "=====\nLoading vault profile\nCopyright example\npermission denied",
			want: "permission denied",
		},
		{
			name: "short colon tail falls back to full line",
			in:   "error code: 17",
			want: "error code: 17",
		},
		{
			name: "empty input",
			in:   "   ",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanCLIMessage(tc.in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNewClient_RequiresTransportAndBaseURL(t *testing.T) {
	if _, err := NewClient(nil, Options{BaseURL: "https://x"}, nil); err == nil {
		t.Fatalf("expected error for nil transport")
	}
	if _, err := NewClient(newFakeTransport(), Options{}, nil); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
