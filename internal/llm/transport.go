package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	qerrors "github.com/uf-hy/qmdr/internal/errors"
)

// bodySnippetLen caps how much of an error response body is kept.
const bodySnippetLen = 500

// transport is the shared HTTP layer for all provider adapters: connection
// pooling with keep-alive, per-request contexts (no client-level timeout so
// the caller's deadline governs cancellation), and retry with exponential
// backoff and jitter.
type transport struct {
	client *http.Client
	retry  qerrors.RetryConfig
}

func newTransport() *transport {
	return &transport{
		client: &http.Client{
			// No Timeout: per-request contexts govern cancellation, and a
			// static client timeout would override them.
			Transport: &http.Transport{
				MaxIdleConns:        8,
				MaxIdleConnsPerHost: 8,
				MaxConnsPerHost:     16,
				IdleConnTimeout:     30 * time.Second,
				DisableKeepAlives:   false,
			},
		},
		retry: qerrors.GatewayRetryConfig(),
	}
}

func (t *transport) close() {
	if tr, ok := t.client.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}

// httpError carries the classification the retry loop needs.
type httpError struct {
	status     int
	body       string
	url        string
	retryable  bool
	retryAfter time.Duration
	cause      error
}

func (e *httpError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// retryableStatus reports whether an HTTP status warrants a retry:
// 408, 425, 429, and all 5xx.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// parseRetryAfter reads a Retry-After header as seconds or HTTP-date.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// postJSON sends one JSON request with retry. Network errors and retryable
// statuses back off exponentially (jittered, capped) for up to three
// attempts; a Retry-After header floors the wait via RetryConfig.MinDelay.
// Anything else surfaces as a provider error carrying the first 500 bytes
// of the response body.
func (t *transport) postJSON(ctx context.Context, provider string, op Operation, url string, headers map[string]string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	cfg := t.retry
	cfg.MinDelay = func(err error) time.Duration {
		var he *httpError
		if errors.As(err, &he) {
			return he.retryAfter
		}
		return 0
	}

	// failure carries the last attempt's classification out of the retry
	// loop. A non-retryable error returns nil from the attempt so the loop
	// stops; the failure is surfaced below either way.
	var failure *httpError
	_, err = qerrors.RetryWithResult(ctx, cfg, func() (struct{}, error) {
		herr := t.once(ctx, url, headers, payload, out)
		switch {
		case herr == nil:
			failure = nil
			return struct{}{}, nil
		case !herr.retryable:
			failure = herr
			return struct{}{}, nil
		default:
			failure = herr
			return struct{}{}, herr
		}
	})
	if ctx.Err() != nil {
		return qerrors.CancelledErr(ctx.Err())
	}
	if failure != nil {
		return qerrors.ProviderErr(provider, string(op), failure.status, failure.body, failure.url, failure.cause)
	}
	return err
}

// once performs a single request/decode cycle.
func (t *transport) once(ctx context.Context, url string, headers map[string]string, payload []byte, out any) *httpError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &httpError{cause: err, url: url}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Connection") == "" {
		req.Header.Set("Connection", "keep-alive")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Network errors are retryable.
		return &httpError{cause: err, url: url, retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLen))
		return &httpError{
			status:     resp.StatusCode,
			body:       string(snippet),
			url:        url,
			retryable:  retryableStatus(resp.StatusCode),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &httpError{cause: fmt.Errorf("decode response: %w", err), url: url}
	}
	return nil
}
