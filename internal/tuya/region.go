package tuya

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/tuya-alarm/internal/logger"
)

// RegionAuto asks the resolver to discover the data center.
const RegionAuto = "auto"

// regionCustom is the code of a base URL given verbatim.
const regionCustom = "custom"

// DefaultReresolveBackoff is the minimum age of an endpoint before it may be re-discovered.
const DefaultReresolveBackoff = time.Minute

// Region is a cloud data center.
type Region struct {
	Code    string
	BaseURL string
}

// knownRegions lists data centers in auto-discovery order.
//
//nolint:gochecknoglobals // Static data center table.
var knownRegions = []Region{
	{Code: "eu", BaseURL: "https://openapi.tuyaeu.com"},
	{Code: "us", BaseURL: "https://openapi.tuyaus.com"},
	{Code: "in", BaseURL: "https://openapi.tuyain.com"},
	{Code: "cn", BaseURL: "https://openapi.tuyacn.com"},
	{Code: "weu", BaseURL: "https://openapi-weaz.tuyaeu.com"},
	{Code: "eus", BaseURL: "https://openapi-ueaz.tuyaus.com"},
}

// errUnknownRegion is returned for hints that are neither auto, a known code nor an https URL.
var errUnknownRegion = errors.New("unknown region")

// KnownRegions returns the built-in data centers in discovery order.
func KnownRegions() []Region {
	return append([]Region(nil), knownRegions...)
}

// ParseRegion validates a region hint. For "auto" it returns a Region with Code RegionAuto.
func ParseRegion(hint string) (Region, error) {
	hint = strings.ToLower(strings.TrimSpace(hint))

	if hint == RegionAuto {
		return Region{Code: RegionAuto}, nil
	}

	for _, r := range knownRegions {
		if r.Code == hint {
			return r, nil
		}
	}

	if strings.HasPrefix(hint, "https://") || strings.HasPrefix(hint, "http://") {
		u, err := url.Parse(hint)
		if err != nil || u.Host == "" {
			return Region{}, fmt.Errorf("%w: %q", errUnknownRegion, hint)
		}

		// Credentials travel in headers, plain http is only allowed on this host.
		if u.Scheme != "https" && !isLoopback(u.Hostname()) {
			return Region{}, fmt.Errorf("%w: %q is not https", errUnknownRegion, hint)
		}

		return Region{Code: regionCustom, BaseURL: strings.TrimRight(hint, "/")}, nil
	}

	return Region{}, fmt.Errorf("%w: %q", errUnknownRegion, hint)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// Endpoint is a resolved data center and the signature scheme it accepts.
type Endpoint struct {
	Region  string
	BaseURL string
	Scheme  Scheme
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return e.Region + " (" + e.BaseURL + ", " + e.Scheme.String() + ")"
}

// Prober attempts a login against a candidate endpoint.
type Prober func(ctx context.Context, endpoint Endpoint) error

// Resolver maps a region hint to an Endpoint and caches it for the session.
type Resolver struct {
	hint       Region
	candidates []Region
	backoff    time.Duration
	now        func() time.Time

	mu         sync.Mutex
	cached     *Endpoint
	resolvedAt time.Time
	probes     int
}

// NewResolver creates a resolver for the hint; candidates override the auto-discovery list.
func NewResolver(hint string, candidates []Region, backoff time.Duration, now func() time.Time) (*Resolver, error) {
	region, err := ParseRegion(hint)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		candidates = KnownRegions()
	}

	if now == nil {
		now = time.Now
	}

	return &Resolver{
		hint:       region,
		candidates: candidates,
		backoff:    backoff,
		now:        now,
	}, nil
}

// Resolve returns the cached endpoint or determines it.
// Every candidate is tried with both schemes, an explicit hint being the only candidate.
func (r *Resolver) Resolve(ctx context.Context, probe Prober) (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}

	candidates := r.candidates
	if r.hint.Code != RegionAuto {
		candidates = []Region{r.hint}
	}

	endpoint, err := r.discover(ctx, candidates, probe)
	if err != nil {
		return Endpoint{}, err
	}

	r.store(endpoint)

	return endpoint, nil
}

// discover tries candidates in priority order.
func (r *Resolver) discover(ctx context.Context, candidates []Region, probe Prober) (Endpoint, error) {
	var lastErr error

	for _, region := range candidates {
		for _, scheme := range []Scheme{SchemeCurrent, SchemeLegacy} {
			candidate := Endpoint{Region: region.Code, BaseURL: region.BaseURL, Scheme: scheme}
			r.probes++

			err := probe(ctx, candidate)
			if err == nil {
				logger.InfoKV(ctx, "Data center resolved", "endpoint", candidate.String())

				return candidate, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return Endpoint{}, fmt.Errorf("%w: %w", ErrResolutionFailed, ctxErr)
			}

			logger.DebugKV(ctx, "Data center probe failed", "endpoint", candidate.String(), "error", err)
			lastErr = err

			// A network failure would repeat with the other scheme.
			if IsRetriable(err) {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = errUnknownRegion
	}

	return Endpoint{}, fmt.Errorf("%w: %w", ErrResolutionFailed, lastErr)
}

// store caches the endpoint.
func (r *Resolver) store(endpoint Endpoint) {
	r.cached = &endpoint
	r.resolvedAt = r.now()
}

// Cached returns the resolved endpoint without resolving.
func (r *Resolver) Cached() (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached == nil {
		return Endpoint{}, false
	}

	return *r.cached, true
}

// Probes returns how many discovery logins were attempted.
func (r *Resolver) Probes() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.probes
}

// Invalidate reacts to persistent authentication failures. Within the backoff
// after a resolution it does nothing. An auto endpoint is dropped so the next
// Resolve probes again; an explicit one switches to the other scheme.
// It reports whether anything changed.
func (r *Resolver) Invalidate(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached == nil || r.now().Sub(r.resolvedAt) < r.backoff {
		return false
	}

	if r.hint.Code != RegionAuto {
		switched := *r.cached
		switched.Scheme = switched.Scheme.Other()
		r.store(switched)
		logger.WarnKV(ctx, "Switching signature scheme", "endpoint", switched.String())

		return true
	}

	logger.WarnKV(ctx, "Dropping resolved data center", "endpoint", r.cached.String())
	r.cached = nil

	return true
}

// Reset drops the cached endpoint unconditionally; used at session teardown.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cached = nil
}
