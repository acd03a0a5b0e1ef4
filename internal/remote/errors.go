package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a response the server actually produced: the network path
// worked, the request was rejected. Distinguishable from transport failures,
// which wrap [model.ErrNetworkUnavailable] instead.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Terminal reports whether retrying the same request can never succeed.
// Client errors are terminal except 408 (timeout) and 429 (rate limit);
// server errors are always worth retrying.
func (e *APIError) Terminal() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// IsTerminal reports whether err (anywhere in its chain) is a permanently
// rejected request. The sync engine drops such actions from the queue instead
// of retrying them forever.
func IsTerminal(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Terminal()
}
