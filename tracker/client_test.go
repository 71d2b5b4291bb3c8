package tracker

import (
	"context"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-vault-bridge/core"
	"github.com/goliatone/go-vault-bridge/retry"
)

type scriptedTransport struct {
	responses []core.TransportResponse
	calls     []core.TransportRequest
}

func (s *scriptedTransport) Kind() string { return "scripted" }

func (s *scriptedTransport) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	s.calls = append(s.calls, req)
	if len(s.responses) == 0 {
		return core.TransportResponse{StatusCode: 500}, nil
	}
	res := s.responses[0]
	s.responses = s.responses[1:]
	return res, nil
}

func newTestTracker(t *testing.T, transport core.TransportAdapter) *Client {
	t.Helper()
	policy := retry.DefaultPolicy()
	policy.JitterFactor = 0
	client, err := NewClient(transport, Options{BaseURL: "https://tracker.example", Policy: policy}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.executor.Sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestClient_CreateParsesIssue(t *testing.T) {
	transport := &scriptedTransport{responses: []core.TransportResponse{
		{StatusCode: 201, Body: []byte(`{"id":"10001","key":"SEC-42"}`)},
	}}
	client := newTestTracker(t, transport)

	ticket, err := client.Create(context.Background(), core.CreateTicketInput{
		ProjectKey: "SEC",
		IssueType:  "Task",
		Summary:    "Privilege elevation approval requested",
		Labels:     []string{"vault-req-42"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.Key != "SEC-42" || ticket.ID != "10001" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if !strings.Contains(transport.calls[0].URL, "/rest/api/2/issue") {
		t.Fatalf("unexpected url %s", transport.calls[0].URL)
	}
}

func TestClient_CreateRetriesThrottledResponses(t *testing.T) {
	transport := &scriptedTransport{responses: []core.TransportResponse{
		{StatusCode: 429, Headers: map[string]string{"Retry-After": "1"}},
		{StatusCode: 201, Body: []byte(`{"id":"10002","key":"SEC-43"}`)},
	}}
	client := newTestTracker(t, transport)

	ticket, err := client.Create(context.Background(), core.CreateTicketInput{
		ProjectKey: "SEC",
		Summary:    "retry me",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.Key != "SEC-43" {
		t.Fatalf("expected SEC-43, got %s", ticket.Key)
	}
	if len(transport.calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", len(transport.calls))
	}
}

func TestClient_CreateSurfacesExhausted429(t *testing.T) {
	var responses []core.TransportResponse
	for i := 0; i < 4; i++ {
		responses = append(responses, core.TransportResponse{StatusCode: 429})
	}
	transport := &scriptedTransport{responses: responses}
	client := newTestTracker(t, transport)

	_, err := client.Create(context.Background(), core.CreateTicketInput{ProjectKey: "SEC", Summary: "x"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %v", err)
	}
	if rich.Code != 429 {
		t.Fatalf("expected upstream 429 surfaced, got %d", rich.Code)
	}
	if len(transport.calls) != 4 {
		t.Fatalf("expected maxRetries+1 = 4 calls, got %d", len(transport.calls))
	}
}

func TestClient_FindByLabel(t *testing.T) {
	transport := &scriptedTransport{responses: []core.TransportResponse{
		{StatusCode: 200, Body: []byte(`{"issues":[{"id":"10003","key":"SEC-44"}]}`)},
	}}
	client := newTestTracker(t, transport)

	ticket, found, err := client.FindByLabel(context.Background(), "vault-req-44")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found || ticket.Key != "SEC-44" {
		t.Fatalf("expected SEC-44, got %+v found=%v", ticket, found)
	}
	if got := transport.calls[0].Query["jql"]; !strings.Contains(got, "vault-req-44") {
		t.Fatalf("expected label in jql, got %q", got)
	}
}

func TestClient_FindByLabelEmpty(t *testing.T) {
	transport := &scriptedTransport{responses: []core.TransportResponse{
		{StatusCode: 200, Body: []byte(`{"issues":[]}`)},
	}}
	client := newTestTracker(t, transport)

	_, found, err := client.FindByLabel(context.Background(), "vault-req-45")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found {
		t.Fatalf("expected no match")
	}
}

func TestClient_Assign(t *testing.T) {
	transport := &scriptedTransport{responses: []core.TransportResponse{
		{StatusCode: 204},
	}}
	client := newTestTracker(t, transport)

	if err := client.Assign(context.Background(), "SEC-44", "acct-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	call := transport.calls[0]
	if !strings.Contains(call.URL, "/issue/SEC-44/assignee") {
		t.Fatalf("unexpected url %s", call.URL)
	}
	if !strings.Contains(string(call.Body), "acct-1") {
		t.Fatalf("expected account id in body, got %s", call.Body)
	}
}
