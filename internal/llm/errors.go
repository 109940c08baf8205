package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// APICallError represents a failed call to a provider
type APICallError struct {
	Provider   Provider
	StatusCode int
	Message    string
	Cause      error
}

func (e *APICallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API call failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s API call failed: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s API call failed: %s", e.Provider, e.Message)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is worth retrying: timeouts, throttling,
// server-side failures and network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return isTransientStatus(gErr.Code)
	}

	var apiErr *APICallError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return isTransientStatus(apiErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Provider call failures without a status code are transport-level.
	return apiErr != nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
