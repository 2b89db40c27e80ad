package allocation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidConfig = errors.New("allocation: invalid client config")
	ErrInvalidID     = errors.New("allocation: invalid identifier")
	ErrNotFound      = errors.New("allocation: not found")
	ErrUnknownUnit   = errors.New("allocation: unknown time unit")
)

// APIError is returned for every non-2xx response of the allocation service.
type APIError struct {
	Operation  string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("allocation: %s %s %s: status %d", e.Operation, e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("allocation: %s %s %s: status %d: %s", e.Operation, e.Method, e.Path, e.StatusCode, body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// HTTPStatus exposes the response status for error classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Retryable reports whether the failure is worth retrying on the next cycle.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
