package tuya

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oshokin/tuya-alarm/internal/logger"
)

// DefaultTimeout bounds every network call when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// errMissingCredentials is returned when the access id or secret is empty.
var errMissingCredentials = errors.New("access id and secret must be provided")

// Credentials identify the cloud project.
type Credentials struct {
	AccessID     string
	AccessSecret string
	// Region is "auto", a known region code or a base URL.
	Region string
}

// String implements fmt.Stringer without exposing the secret.
func (c Credentials) String() string {
	return "access_id=" + c.AccessID + " region=" + c.Region + " access_secret=<redacted>"
}

// Option configures a Session.
type Option func(*options)

type options struct {
	httpClient    *http.Client
	timeout       time.Duration
	retry         RetryPolicy
	now           func() time.Time
	nonce         func() string
	candidates    []Region
	backoff       time.Duration
	margin        time.Duration
	authThreshold int
}

// WithHTTPClient sets the HTTP client used for all calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTimeout bounds every network call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(policy RetryPolicy) Option {
	return func(o *options) {
		o.retry = policy
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithNonce replaces the nonce generator.
func WithNonce(nonce func() string) Option {
	return func(o *options) {
		o.nonce = nonce
	}
}

// WithCandidates replaces the auto-discovery region list.
func WithCandidates(candidates ...Region) Option {
	return func(o *options) {
		o.candidates = candidates
	}
}

// WithReresolveBackoff sets the minimum endpoint age before re-discovery.
func WithReresolveBackoff(backoff time.Duration) Option {
	return func(o *options) {
		o.backoff = backoff
	}
}

// WithSafetyMargin sets how long before expiry the token is renewed.
func WithSafetyMargin(margin time.Duration) Option {
	return func(o *options) {
		o.margin = margin
	}
}

// WithAuthFailureThreshold sets how many consecutive authentication failures trigger re-resolution.
func WithAuthFailureThreshold(threshold int) Option {
	return func(o *options) {
		o.authThreshold = threshold
	}
}

// Session owns the endpoint and token caches of one cloud project.
// It is created at startup and closed at shutdown.
type Session struct {
	credentials *CredentialManager
	resolver    *Resolver
	transport   *transport
	sequence    atomic.Uint64
	closed      atomic.Bool
}

// NewSession validates the credentials and prepares a session. No network call is made.
func NewSession(creds Credentials, opts ...Option) (*Session, error) {
	if creds.AccessID == "" || creds.AccessSecret == "" {
		return nil, errMissingCredentials
	}

	o := options{
		timeout:       DefaultTimeout,
		retry:         DefaultRetryPolicy,
		now:           time.Now,
		nonce:         newNonce,
		backoff:       DefaultReresolveBackoff,
		margin:        DefaultSafetyMargin,
		authThreshold: DefaultAuthFailureThreshold,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}

	if o.authThreshold < 1 {
		o.authThreshold = 1
	}

	resolver, err := NewResolver(creds.Region, o.candidates, o.backoff, o.now)
	if err != nil {
		return nil, err
	}

	t := &transport{
		http:     o.httpClient,
		clientID: creds.AccessID,
		secret:   []byte(creds.AccessSecret),
		timeout:  o.timeout,
		retry:    o.retry,
		now:      o.now,
		nonce:    o.nonce,
	}

	return &Session{
		credentials: &CredentialManager{
			transport: t,
			resolver:  resolver,
			margin:    o.margin,
			threshold: o.authThreshold,
		},
		resolver:  resolver,
		transport: t,
	}, nil
}

// Open resolves the endpoint and obtains the first token.
// A failure here is the only resolution error that reaches the user.
func (s *Session) Open(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	_, endpoint, err := s.credentials.Token(ctx)
	if err != nil {
		return fmt.Errorf("open cloud session: %w", err)
	}

	logger.InfoKV(ctx, "Cloud session opened", "endpoint", endpoint.String())

	return nil
}

// Close discards the caches. Calls made afterwards fail with ErrSessionClosed.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}

	s.resolver.Reset()
	s.credentials.reset()
	s.transport.http.CloseIdleConnections()
}

// Credentials returns the session's credential manager.
func (s *Session) Credentials() *CredentialManager {
	return s.credentials
}

// Endpoint returns the resolved endpoint, if any.
func (s *Session) Endpoint() (Endpoint, bool) {
	return s.resolver.Cached()
}

// NextSequence returns the next fetch sequence number.
func (s *Session) NextSequence() uint64 {
	return s.sequence.Add(1)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
