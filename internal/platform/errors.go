package platform

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/google/go-github/v57/github"
)

// IsRetryable classifies a platform call failure. Timeouts, rate limits,
// 429 and 5xx responses are transient and worth a requeue; other HTTP
// errors (permission denied, not found, validation) are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Connection-level failures (refused, reset) surface as *url.Error or
	// *net.OpError without a status code; treat them as transient.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return false
}

// IsTerminal reports whether err is a platform error that retrying cannot
// fix. Errors from other subsystems are not platform-terminal.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return !IsRetryable(err)
	}
	return false
}
