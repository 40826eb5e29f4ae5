package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mediascribe/mediascribe/internal/core"
)

// classifyHTTPStatus maps a non-2xx response to the error taxonomy.
func classifyHTTPStatus(provider string, status int, body string) error {
	snippet := strings.TrimSpace(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}

	switch {
	case status == http.StatusTooManyRequests:
		return core.ErrRateLimit(fmt.Sprintf("provider %s throttled the request (HTTP 429): %s", provider, snippet))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrAuth(fmt.Sprintf("provider %s rejected the credential (HTTP %d): %s", provider, status, snippet))
	case status >= 500:
		return core.ErrNetwork(fmt.Sprintf("provider %s server error (HTTP %d): %s", provider, status, snippet))
	case status >= 400:
		return core.ErrInput(core.CodeUnsupportedFormat,
			fmt.Sprintf("provider %s rejected the request (HTTP %d): %s", provider, status, snippet))
	default:
		return core.ErrNetwork(fmt.Sprintf("provider %s unexpected status %d: %s", provider, status, snippet))
	}
}

// classifyTransportError maps a transport-level failure to the taxonomy.
// Context deadline expiry is the hard wall-clock timeout firing.
func classifyTransportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout(fmt.Sprintf("provider %s call exceeded its timeout", provider)).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrTimeout(fmt.Sprintf("provider %s request timed out", provider)).WithCause(err)
	}
	return core.ErrNetwork(fmt.Sprintf("provider %s request failed", provider)).WithCause(err)
}

// classifyContent validates the payload of a syntactically successful
// response. An empty or whitespace-only description is a retryable content
// failure, not a success.
func classifyContent(provider, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyContent(provider)
	}
	return nil
}
