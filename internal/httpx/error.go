package httpx

import (
	"fmt"
	"net/http"
)

// HTTPError is returned by Do for any status >= 400. Body holds the raw
// response so callers can extract the service's error text.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("httpx: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a retry may succeed: 408, 429 and 5xx.
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500 && e.StatusCode <= 599
	}
}
