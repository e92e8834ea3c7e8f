package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrOrderNotFound is returned by GetOrder when the exchange does not know the order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotSupported marks a capability the venue does not offer.
	ErrNotSupported = errors.New("operation not supported")
	// ErrUnauthorized means credentials are missing or were rejected.
	ErrUnauthorized = errors.New("credentials missing or rejected")
)

// APIError is a non-success response from an exchange.
type APIError struct {
	Exchange string
	Status   int // HTTP status, 0 when the venue reports errors in-body
	Code     int // venue error code
	Message  string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s api error (http %d, code %d): %s", e.Exchange, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error (code %d): %s", e.Exchange, e.Code, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// IsTemporary reports whether err is worth retrying.
// Transport errors (no APIError in the chain) are treated as temporary.
func IsTemporary(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrNotSupported),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, context.Canceled):
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
