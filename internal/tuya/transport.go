package tuya

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/tuya-alarm/internal/logger"
)

// maxReplySize caps how much of a reply is read.
const maxReplySize = 1 << 20

// replySnippetSize is how much of an undecodable reply is quoted in errors.
const replySnippetSize = 256

// RetryPolicy bounds retries of transient failures with capped exponential backoff.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// BaseDelay is the wait before the second try; it doubles each time.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
//
//nolint:gochecknoglobals,mnd // Read-only defaults.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

// delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}

	return min(d, p.MaxDelay)
}

// wait sleeps for the backoff of the attempt or until ctx ends.
func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// envelope is the common reply wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
	TID     string          `json:"tid"`
}

// call describes one logical request.
type call struct {
	method string
	path   string
	query  url.Values
	body   []byte
	token  string
}

// transport performs signed HTTP exchanges. It holds no token or endpoint state.
type transport struct {
	http     *http.Client
	clientID string
	secret   []byte
	timeout  time.Duration
	retry    RetryPolicy
	now      func() time.Time
	nonce    func() string
}

// newNonce returns a random request nonce.
func newNonce() string {
	return uuid.NewString()
}

// do performs the call, retrying transient failures per the retry policy.
func (t *transport) do(ctx context.Context, endpoint Endpoint, c call) (*envelope, error) {
	attempts := max(t.retry.Attempts, 1)

	for attempt := 1; ; attempt++ {
		reply, err := t.once(ctx, endpoint, c)
		if err == nil || !IsRetriable(err) || attempt >= attempts {
			return reply, err
		}

		logger.WarnKV(ctx, "Retrying cloud call", "path", c.path, "attempt", attempt, "error", err)

		if waitErr := t.retry.wait(ctx, attempt); waitErr != nil {
			return nil, fmt.Errorf("%s %s: %w", c.method, c.path, waitErr)
		}
	}
}

// once performs a single signed exchange and classifies the outcome.
//
//nolint:cyclop,funlen // Linear request/response handling with one branch per failure class.
func (t *transport) once(ctx context.Context, endpoint Endpoint, c call) (*envelope, error) {
	sent := t.now()
	req := &Request{
		Method:      c.method,
		Path:        c.path,
		Query:       c.query,
		Body:        c.body,
		ClientID:    t.clientID,
		AccessToken: c.token,
		Timestamp:   sent.UnixMilli(),
	}

	if endpoint.Scheme == SchemeCurrent {
		req.Nonce = t.nonce()
	}

	signature, err := Sign(req, endpoint.Scheme, t.secret)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if len(c.body) > 0 {
		body = bytes.NewReader(c.body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, c.method, endpoint.BaseURL+req.URL(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrMalformedRequest, err)
	}

	httpReq.Header = SignedHeader(req, endpoint.Scheme, signature)
	if len(c.body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", c.method, c.path, ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransientNetwork, c.method, c.path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransientNetwork, c.path, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s returned %s", ErrTransientNetwork, c.path, resp.Status)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %s", ErrAuthenticationFailed, c.path, resp.Status)
	}

	var reply envelope
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: %s returned non-JSON reply (status %d): %q",
			ErrTransientNetwork, c.path, resp.StatusCode, snippet(raw))
	}

	if reply.T != 0 {
		logger.DebugKV(ctx, "Cloud clock", "path", c.path, "drift_ms", reply.T-req.Timestamp)
	}

	if !reply.Success {
		return nil, &APIError{
			Code:       reply.Code,
			Msg:        reply.Msg,
			HTTPStatus: resp.StatusCode,
			Path:       c.path,
		}
	}

	return &reply, nil
}

// snippet truncates a reply for error messages.
func snippet(raw []byte) string {
	if len(raw) > replySnippetSize {
		return string(raw[:replySnippetSize]) + "..."
	}

	return string(raw)
}

// decodeResult unmarshals the result of a successful reply.
func decodeResult(reply *envelope, out any) error {
	if reply == nil || len(reply.Result) == 0 {
		return fmt.Errorf("%w: empty result", ErrTransientNetwork)
	}

	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}

	return nil
}

// isContextError reports cancellation or deadline errors.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
