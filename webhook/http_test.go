package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-vault-bridge/core"
)

func serveDelivery(t *testing.T, handler *Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return recorder, payload
}

func TestHandler_RejectsNonPost(t *testing.T) {
	fixture := newFixture(t)
	handler := NewHandler(fixture.pipeline, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	recorder, payload := serveDelivery(t, handler, req)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
	if payload["success"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestHandler_OversizedBodyRejectedExplicitly(t *testing.T) {
	fixture := newFixture(t)
	handler := NewHandler(fixture.pipeline, nil)

	body := strings.Repeat("a", handlerBodyCeiling+1)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	recorder, payload := serveDelivery(t, handler, req)

	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for body over the ceiling, got %d", recorder.Code)
	}
	if payload["code"] != core.BridgeErrorPayloadTooLarge {
		t.Fatalf("expected payload-too-large code, got %v", payload["code"])
	}
	if len(fixture.tickets.created) != 0 {
		t.Fatalf("oversized body must not reach the pipeline")
	}
}

func TestHandler_BodyAtCeilingReachesPipeline(t *testing.T) {
	fixture := newFixture(t)
	handler := NewHandler(fixture.pipeline, nil)

	// Exactly at the ceiling: the handler passes it through and the
	// pipeline's configured limit decides.
	body := strings.Repeat("a", handlerBodyCeiling)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	recorder, payload := serveDelivery(t, handler, req)

	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected pipeline size rejection, got %d", recorder.Code)
	}
	if payload["code"] != core.BridgeErrorPayloadTooLarge {
		t.Fatalf("expected payload-too-large code, got %v", payload["code"])
	}
}

func TestHandler_DeliveryRoundTrip(t *testing.T) {
	fixture := newFixture(t)
	handler := NewHandler(fixture.pipeline, nil)

	delivery := approvalAlert(t, "req-http-1")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(delivery.Body)))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	recorder, payload := serveDelivery(t, handler, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", recorder.Code, payload)
	}
	if payload["issue_key"] != "SEC-1" {
		t.Fatalf("expected issue SEC-1, got %v", payload["issue_key"])
	}
	if recorder.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
}
