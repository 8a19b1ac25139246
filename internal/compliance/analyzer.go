package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request describes one analysis invocation
type Request struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
	HeadSHA  string `json:"head_sha"`
	BaseSHA  string `json:"base_sha,omitempty"`
}

// Analyzer runs the rule engine against a PR and returns a normalized
// Result. The engine itself is external; it is trusted for correctness but
// not for latency, so implementations must honor the context deadline.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// engineError marks analysis-engine failures so the worker can apply the
// engine retry policy (transient once, terminal on repeat) instead of the
// platform one.
type engineError struct {
	err error
}

func (e *engineError) Error() string { return "analysis engine: " + e.err.Error() }
func (e *engineError) Unwrap() error { return e.err }

// EngineError wraps err as an analysis-engine failure
func EngineError(err error) error {
	return &engineError{err: err}
}

// IsEngineError reports whether err originated in the analysis engine
func IsEngineError(err error) bool {
	var ee *engineError
	return errors.As(err, &ee)
}

// HTTPAnalyzer calls a rule-engine service over HTTP. The engine receives
// the Request as JSON and responds with the violation list.
type HTTPAnalyzer struct {
	url    string
	client *http.Client
}

// NewHTTPAnalyzer creates an analyzer for the engine at url with a per-call
// timeout
func NewHTTPAnalyzer(url string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// engineResponse is the wire format returned by the engine
type engineResponse struct {
	Violations []Violation `json:"violations"`
}

// Analyze posts the request to the engine and normalizes the response into
// a Result. All failures are reported as engine errors.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, EngineError(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, EngineError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, EngineError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, EngineError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, EngineError(fmt.Errorf("engine returned %d: %s", resp.StatusCode, truncate(string(body), 512)))
	}

	var er engineResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, EngineError(fmt.Errorf("parse engine response: %w", err))
	}
	return NewResult(er.Violations), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
