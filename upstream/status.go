package upstream

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError reports a non-2xx answer from an external service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Unauthorized is true when the service rejected our credentials.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// NewStatusError keeps a short excerpt of the response body for logging.
func NewStatusError(service string, resp *http.Response) *StatusError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(excerpt)),
	}
}
