package tuya

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oshokin/tuya-alarm/internal/logger"
)

const (
	// DefaultSafetyMargin is how long before expiry a token is renewed.
	DefaultSafetyMargin = time.Minute

	// DefaultAuthFailureThreshold is the number of consecutive authentication
	// failures after which the endpoint is re-resolved.
	DefaultAuthFailureThreshold = 2

	tokenPath  = "/v1.0/token"
	tokenGroup = "token"
)

// Token is an access credential issued by the cloud.
type Token struct {
	Value        string
	RefreshValue string
	UID          string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// validAt reports whether the token can still be used at now.
func (t *Token) validAt(now time.Time, margin time.Duration) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// tokenResult is the result of the token endpoints.
type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireTime   int64  `json:"expire_time"`
	UID          string `json:"uid"`
}

// grant is what a single-flighted refresh hands to every waiter.
type grant struct {
	token    Token
	endpoint Endpoint
}

// CredentialManager keeps a valid token and the endpoint it was issued by.
// Concurrent callers that find the token stale share one refresh.
type CredentialManager struct {
	transport *transport
	resolver  *Resolver
	margin    time.Duration
	threshold int

	group singleflight.Group

	mu           sync.Mutex
	token        *Token
	authFailures int

	logins atomic.Int64
}

// Token returns a valid token and its endpoint, refreshing when needed.
func (m *CredentialManager) Token(ctx context.Context) (Token, Endpoint, error) {
	if token, endpoint, ok := m.current(); ok {
		return token, endpoint, nil
	}

	// The refresh outlives any single caller; each network call inside is bounded by the call timeout.
	refreshCtx := context.WithoutCancel(ctx)
	results := m.group.DoChan(tokenGroup, func() (any, error) {
		return m.refresh(refreshCtx)
	})

	select {
	case <-ctx.Done():
		return Token{}, Endpoint{}, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return Token{}, Endpoint{}, res.Err
		}

		g, _ := res.Val.(grant)

		return g.token, g.endpoint, nil
	}
}

// current returns the cached token when it is valid and the endpoint is resolved.
func (m *CredentialManager) current() (Token, Endpoint, bool) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if !token.validAt(m.transport.now(), m.margin) {
		return Token{}, Endpoint{}, false
	}

	endpoint, ok := m.resolver.Cached()
	if !ok {
		return Token{}, Endpoint{}, false
	}

	return *token, endpoint, true
}

// refresh resolves the endpoint and obtains a token: from the discovery probe,
// by renewing with the refresh value, or by a fresh login.
func (m *CredentialManager) refresh(ctx context.Context) (grant, error) {
	if token, endpoint, ok := m.current(); ok {
		return grant{token: token, endpoint: endpoint}, nil
	}

	var probed *Token

	endpoint, err := m.resolver.Resolve(ctx, func(ctx context.Context, candidate Endpoint) error {
		token, err := m.login(ctx, candidate)
		if err == nil {
			probed = &token
		}

		return err
	})
	if err != nil {
		return grant{}, err
	}

	token := probed
	if token == nil {
		token, err = m.obtain(ctx, endpoint)
		if err != nil {
			m.ReportAuthFailure(ctx, err)

			return grant{}, err
		}
	}

	m.mu.Lock()
	m.token = token
	m.authFailures = 0
	m.mu.Unlock()

	logger.DebugKV(ctx, "Access token ready", "endpoint", endpoint.String(), "expires_at", token.ExpiresAt)

	return grant{token: *token, endpoint: endpoint}, nil
}

// obtain renews the previous token if possible and logs in otherwise.
func (m *CredentialManager) obtain(ctx context.Context, endpoint Endpoint) (*Token, error) {
	m.mu.Lock()
	previous := m.token
	m.mu.Unlock()

	if previous != nil && previous.RefreshValue != "" {
		token, err := m.renew(ctx, endpoint, previous.RefreshValue)
		if err == nil {
			return &token, nil
		}

		logger.WarnKV(ctx, "Token renewal failed, logging in again", "error", err)
	}

	token, err := m.login(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &token, nil
}

// login requests a new token with the project credentials.
func (m *CredentialManager) login(ctx context.Context, endpoint Endpoint) (Token, error) {
	m.logins.Add(1)

	return m.requestToken(ctx, endpoint, call{
		method: http.MethodGet,
		path:   tokenPath,
		query:  url.Values{"grant_type": []string{"1"}},
	})
}

// renew exchanges a refresh value for a new token.
func (m *CredentialManager) renew(ctx context.Context, endpoint Endpoint, refreshValue string) (Token, error) {
	return m.requestToken(ctx, endpoint, call{
		method: http.MethodGet,
		path:   tokenPath + "/" + url.PathEscape(refreshValue),
	})
}

func (m *CredentialManager) requestToken(ctx context.Context, endpoint Endpoint, c call) (Token, error) {
	issuedAt := m.transport.now()

	reply, err := m.transport.do(ctx, endpoint, c)
	if err != nil {
		return Token{}, fmt.Errorf("token request to %s: %w", endpoint.Region, err)
	}

	var result tokenResult
	if err := decodeResult(reply, &result); err != nil {
		return Token{}, fmt.Errorf("token request to %s: %w", endpoint.Region, err)
	}

	if result.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: token reply without access_token", ErrTransientNetwork)
	}

	return Token{
		Value:        result.AccessToken,
		RefreshValue: result.RefreshToken,
		UID:          result.UID,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(time.Duration(result.ExpireTime) * time.Second),
	}, nil
}

// Invalidate drops the cached token; the next call logs in or renews.
func (m *CredentialManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil {
		// Keep the refresh value so the next refresh can try renewal first.
		m.token = &Token{RefreshValue: m.token.RefreshValue}
	}
}

// ReportAuthFailure counts consecutive authentication failures and re-resolves
// the endpoint once the threshold is reached. Other errors are ignored.
func (m *CredentialManager) ReportAuthFailure(ctx context.Context, err error) {
	if !errors.Is(err, ErrAuthenticationFailed) {
		return
	}

	m.mu.Lock()
	m.authFailures++
	reached := m.authFailures >= m.threshold

	if reached {
		m.authFailures = 0
	}
	m.mu.Unlock()

	logger.WarnKV(ctx, "Cloud rejected credentials", "error", err, "re_resolve", reached)

	if reached && m.resolver.Invalidate(ctx) {
		m.mu.Lock()
		m.token = nil
		m.mu.Unlock()
	}
}

// reportSuccess resets the failure counter.
func (m *CredentialManager) reportSuccess() {
	m.mu.Lock()
	m.authFailures = 0
	m.mu.Unlock()
}

// Logins returns the number of login requests issued, probes included.
func (m *CredentialManager) Logins() int64 {
	return m.logins.Load()
}

// reset drops all cached credentials.
func (m *CredentialManager) reset() {
	m.mu.Lock()
	m.token = nil
	m.authFailures = 0
	m.mu.Unlock()
}
