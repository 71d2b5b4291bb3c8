package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	BridgeErrorBadPayload        = "BRIDGE_BAD_PAYLOAD"
	BridgeErrorNotConfigured     = "BRIDGE_NOT_CONFIGURED"
	BridgeErrorUnauthorized      = "BRIDGE_UNAUTHORIZED"
	BridgeErrorRateLimited       = "BRIDGE_RATE_LIMITED"
	BridgeErrorPayloadTooLarge   = "BRIDGE_PAYLOAD_TOO_LARGE"
	BridgeErrorQueueFull         = "BRIDGE_QUEUE_FULL"
	BridgeErrorUpstreamThrottled = "BRIDGE_UPSTREAM_RATE_LIMITED"
	BridgeErrorJobNotFound       = "BRIDGE_JOB_NOT_FOUND"
	BridgeErrorJobFailed         = "BRIDGE_JOB_FAILED"
	BridgeErrorJobTimeout        = "BRIDGE_JOB_TIMEOUT"
	BridgeErrorTicketCreate      = "BRIDGE_TICKET_CREATE_FAILED"
	BridgeErrorInternal          = "BRIDGE_INTERNAL_ERROR"
)

// BridgeErrorMapper normalizes any error into a rich envelope carrying a
// category, HTTP code and text code, so the webhook boundary can always
// emit a structured JSON body.
func BridgeErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureBridgeErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "queue is full"):
		return NewBridgeError(err.Error(), goerrors.CategoryExternal, BridgeErrorQueueFull)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return NewBridgeError(err.Error(), goerrors.CategoryRateLimit, BridgeErrorRateLimited)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "expired"):
		return NewBridgeError(err.Error(), goerrors.CategoryNotFound, BridgeErrorJobNotFound)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "token"):
		return NewBridgeError(err.Error(), goerrors.CategoryAuth, BridgeErrorUnauthorized)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return NewBridgeError(err.Error(), goerrors.CategoryBadInput, BridgeErrorBadPayload)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBridgeErrorEnvelope(mapped)
}

// NewBridgeError builds a rich error with the envelope guarantees applied.
func NewBridgeError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureBridgeErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureBridgeErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = bridgeHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBridgeTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBridgeTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return BridgeErrorBadPayload
	case goerrors.CategoryNotFound:
		return BridgeErrorJobNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return BridgeErrorUnauthorized
	case goerrors.CategoryRateLimit:
		return BridgeErrorRateLimited
	case goerrors.CategoryExternal:
		return BridgeErrorTicketCreate
	default:
		return BridgeErrorInternal
	}
}

func bridgeHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
