package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-vault-bridge/core"
)

// handlerBodyCeiling caps how much of a request body the handler reads.
// The pipeline enforces the configured payload limit; bodies over this
// hard ceiling are rejected before that check runs.
const handlerBodyCeiling = 1 << 20

// Handler adapts a Pipeline to net/http. Every response is a JSON body;
// the pipeline decides status codes and headers.
type Handler struct {
	pipeline *Pipeline
	logger   core.Logger
}

func NewHandler(pipeline *Pipeline, logger core.Logger) *Handler {
	return &Handler{pipeline: pipeline, logger: glog.Ensure(logger)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.pipeline == nil {
		writeJSON(w, nil, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "webhook handler is not configured",
			"code":    core.BridgeErrorInternal,
		})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, nil, http.StatusMethodNotAllowed, map[string]any{
			"success": false,
			"error":   "method not allowed",
			"code":    core.BridgeErrorBadPayload,
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, handlerBodyCeiling+1))
	if err != nil {
		writeJSON(w, nil, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "unable to read request body",
			"code":    core.BridgeErrorBadPayload,
		})
		return
	}
	if len(body) > handlerBodyCeiling {
		writeJSON(w, nil, http.StatusRequestEntityTooLarge, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("payload exceeds %d bytes", handlerBodyCeiling),
			"code":    core.BridgeErrorPayloadTooLarge,
		})
		return
	}

	delivery := Delivery{
		Headers: flattenRequestHeaders(r),
		Body:    body,
	}
	result, procErr := h.pipeline.Process(r.Context(), delivery)
	if procErr != nil {
		h.logger.Info("delivery rejected",
			"status", result.StatusCode,
			"error", procErr.Error(),
		)
	}
	writeJSON(w, result.Headers, result.StatusCode, result.Payload)
}

func flattenRequestHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return headers
}

func writeJSON(w http.ResponseWriter, headers map[string]string, status int, payload map[string]any) {
	for name, value := range headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
