package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"project-companion/internal/domain"
)

// maxErrorBody caps how much of an error response is kept as detail.
const maxErrorBody = 4096

// MapStatus maps an HTTP status code and response body to a domain error.
// The sentinel lets callers, the circuit breaker and the CLI classify
// failures with errors.Is; the server's text is kept as detail.
func MapStatus(statusCode int, body []byte) error {
	detail := fmt.Sprintf("HTTP %d", statusCode)
	if msg := strings.TrimSpace(string(body)); msg != "" {
		detail += ": " + msg
	}

	var sentinel error
	switch {
	case statusCode == http.StatusBadRequest:
		sentinel = domain.ErrInvalidInput
	case statusCode == http.StatusUnauthorized:
		sentinel = domain.ErrAuthInvalid
	case statusCode == http.StatusForbidden:
		sentinel = domain.ErrForbidden
	case statusCode == http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case statusCode == http.StatusConflict:
		sentinel = domain.ErrDuplicate
	case statusCode == http.StatusTooManyRequests:
		sentinel = domain.ErrRateLimit
	case statusCode >= 500:
		sentinel = domain.ErrProviderError
	default:
		return errors.New(detail)
	}
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// CheckResponse returns nil for 2xx responses. Otherwise it drains up to
// maxErrorBody bytes of the body and returns MapStatus's error. It does not
// close the body.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return MapStatus(resp.StatusCode, body)
}
