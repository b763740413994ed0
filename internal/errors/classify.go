package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Classify maps an arbitrary backend error into the retrieval error taxonomy.
// Errors that already carry an AmanError are returned unchanged.
func Classify(backend string, err error) *AmanError {
	if err == nil {
		return nil
	}
	if ae, ok := asAman(err); ok {
		return ae
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return BackendUnavailable(backend, err).WithDetail("circuit", StateOpen.String())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return BackendTimeout(backend, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return BackendTimeout(backend, err)
	}

	return BackendUnavailable(backend, err)
}

// FromHTTPStatus converts a non-2xx HTTP status into the taxonomy.
// Returns nil for 2xx statuses.
func FromHTTPStatus(backend string, status int, retryAfter time.Duration) *AmanError {
	cause := fmt.Errorf("unexpected status %d", status)
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return RateLimited(backend, retryAfter, cause)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return BackendTimeout(backend, cause)
	case status >= 500:
		return BackendUnavailable(backend, cause)
	default:
		return New(ErrCodeInvalidInput, fmt.Sprintf("%s backend rejected request", backend), cause).
			WithDetail("backend", backend)
	}
}
