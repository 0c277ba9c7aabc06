package source

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when the graph or its metadata does not exist.
	ErrNotFound = errors.New("graph not found")

	// ErrUnauthorized is returned when the API key is missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMissingAPIKey is returned before any request that needs a key.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrUnsupportedURL is returned for graph URLs that are neither http(s) nor s3.
	ErrUnsupportedURL = errors.New("unsupported graph url")
)

// HTTPError describes a non-2xx response.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: HTTP %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Is maps status codes onto the package sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}
