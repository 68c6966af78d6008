package ingest

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifies a webhook rejection.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindUnauthorized    Kind = "unauthorized"
	KindTooManyRequests Kind = "too_many_requests"
	KindPayloadTooLarge Kind = "payload_too_large"
)

// WebhookError is a typed pipeline rejection. Status carries the HTTP status
// the caller should surface; RetryAfter is non-zero only when retrying later
// can succeed without configuration changes.
type WebhookError struct {
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *WebhookError) Error() string {
	return e.Message
}

// AsWebhookError unwraps err into a *WebhookError if possible.
func AsWebhookError(err error) (*WebhookError, bool) {
	var whErr *WebhookError
	if errors.As(err, &whErr) {
		return whErr, true
	}
	return nil, false
}

func errNotFound(msg string) *WebhookError {
	return &WebhookError{Kind: KindNotFound, Status: http.StatusNotFound, Message: msg}
}

func errForbidden(msg string) *WebhookError {
	return &WebhookError{Kind: KindForbidden, Status: http.StatusForbidden, Message: msg}
}

func errUnauthorized(msg string) *WebhookError {
	return &WebhookError{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: msg}
}

func errTooManyRequests(msg string, retryAfter time.Duration) *WebhookError {
	return &WebhookError{
		Kind:       KindTooManyRequests,
		Status:     http.StatusTooManyRequests,
		Message:    msg,
		RetryAfter: retryAfter,
	}
}

func errPayloadTooLarge(msg string) *WebhookError {
	return &WebhookError{Kind: KindPayloadTooLarge, Status: http.StatusRequestEntityTooLarge, Message: msg}
}
