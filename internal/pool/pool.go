// Package pool implements the per-route endpoint selector: round-robin
// selection over a fixed, health-tracked endpoint set, failure-threshold
// eviction, minimum-healthy fallback, and verbatim HTTP forwarding.
package pool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"rpc-gateway/internal/alert"
	"rpc-gateway/internal/endpoint"
)

// Options mirrors spec.md's PoolOptions: failure threshold, minimum
// healthy count for the round-robin pool to serve from healthy endpoints
// only, and the alert dispatcher invoked on Healthy->Unhealthy
// transitions.
type Options struct {
	FailureThreshold int
	MinHealthy       int
	Dispatcher       *alert.Dispatcher
	RouteID          string
	Client           *http.Client
}

const (
	defaultFailureThreshold = 3
	defaultMinHealthy       = 1
)

// Pool is an ordered collection of Endpoints with a round-robin cursor,
// owned exclusively by its constructing Route/Gateway.
type Pool struct {
	manager          *endpoint.Manager
	failureThreshold int
	minHealthy       int
	routeID          string
	dispatcher       *alert.Dispatcher
	client           *http.Client

	mu        sync.Mutex
	cursor    int
	lastUsed  *endpoint.Status
	hasLatest bool
}

// New constructs a Pool from endpoint configs and options. Fails if
// configs is empty or any entry lacks a URL (endpoint.NewManager
// enforces both).
func New(configs []endpoint.Config, opts Options) (*Pool, error) {
	mgr, err := endpoint.NewManager(configs)
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	minHealthy := opts.MinHealthy
	if minHealthy < 0 {
		minHealthy = defaultMinHealthy
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Pool{
		manager:          mgr,
		failureThreshold: threshold,
		minHealthy:       minHealthy,
		routeID:          opts.RouteID,
		dispatcher:       opts.Dispatcher,
		client:           client,
	}, nil
}

// Select implements the six-step candidate-narrowing algorithm of
// spec.md §4.1. It never fails: a Pool with >=1 configured endpoints
// always returns one.
func (p *Pool) Select(methods []string) *endpoint.Endpoint {
	all := p.manager.All()

	candidates := all
	if len(methods) > 0 {
		candidates = filterSupports(all, methods)
	}

	healthy := filterHealthy(candidates)

	var served []*endpoint.Endpoint
	if len(healthy) >= p.minHealthy {
		served = healthy
	} else {
		served = candidates
	}

	if len(served) == 0 {
		// Method filter excluded everything: fall back to healthy
		// endpoints ignoring the filter, then to all endpoints.
		allHealthy := filterHealthy(all)
		if len(allHealthy) > 0 {
			served = allHealthy
		} else {
			served = all
		}
	}

	p.mu.Lock()
	idx := p.cursor % len(served)
	p.cursor = (p.cursor + 1) % len(served)
	p.mu.Unlock()

	return served[idx]
}

func filterHealthy(endpoints []*endpoint.Endpoint) []*endpoint.Endpoint {
	out := make([]*endpoint.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if e.IsHealthy() {
			out = append(out, e)
		}
	}
	return out
}

func filterSupports(endpoints []*endpoint.Endpoint, methods []string) []*endpoint.Endpoint {
	out := make([]*endpoint.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if e.SupportsAll(methods) {
			out = append(out, e)
		}
	}
	return out
}

// Response carries an upstream's HTTP status, headers, and body back to
// the gateway for forwarding verbatim.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward selects an endpoint, records the selection as lastUsed, issues
// the upstream call, classifies the outcome, and updates health. A
// non-nil error means a hard failure (no HTTP response was produced); the
// caller maps that to HTTP 502. A non-nil Response with a nil error may
// still carry a non-2xx status (a soft failure) that must be forwarded
// verbatim to the downstream client.
func (p *Pool) Forward(ctx context.Context, body []byte, headers http.Header, methods []string) (*Response, error) {
	ep := p.Select(methods)
	p.setLastUsed(ep.Snapshot())

	reqCtx, cancel := p.composeContext(ctx, ep)
	defer cancel()

	start := time.Now()
	resp, err := p.doForward(reqCtx, ep, body, headers)
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		p.recordFailure(ep, err.Error(), nil)
		return nil, fmt.Errorf("pool: forward to %s: %w", ep.URL, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		ep.MarkSuccess(latencyMs)
	} else {
		p.recordFailure(ep, fmt.Sprintf("HTTP %d", resp.StatusCode), &latencyMs)
	}

	return resp, nil
}

func (p *Pool) recordFailure(ep *endpoint.Endpoint, reason string, latencyMs *int64) {
	transition, shouldAlert := ep.MarkFailure(reason, latencyMs, p.failureThreshold)
	if transition == endpoint.BecameUnhealthy && shouldAlert {
		p.emitAlert(ep, reason)
	}
}

func (p *Pool) emitAlert(ep *endpoint.Endpoint, reason string) {
	if p.dispatcher == nil {
		return
	}
	event := alert.Event{
		EndpointID:          ep.ID,
		URL:                 ep.URL,
		RouteID:             p.routeID,
		ConsecutiveFailures: ep.FailureCount(),
		LastError:           reason,
		TimestampMs:         alert.NowMs(time.Now()),
	}
	log.Warn().
		Str("endpoint_id", ep.ID).
		Str("route_id", p.routeID).
		Int("consecutive_failures", event.ConsecutiveFailures).
		Msg("endpoint became unhealthy")
	p.dispatcher.Dispatch(event)
}

func (p *Pool) composeContext(ctx context.Context, ep *endpoint.Endpoint) (context.Context, context.CancelFunc) {
	if ep.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ep.Timeout)
}

// MarkHealthy implements the manual markHealthy(urlOrId) override.
// No-op if urlOrID is not found.
func (p *Pool) MarkHealthy(urlOrID string) {
	ep := p.manager.Find(urlOrID)
	if ep == nil {
		return
	}
	ep.MarkHealthyManual()
}

// MarkUnhealthy implements the manual markUnhealthy(urlOrId, reason)
// override, emitting an alert per the at-most-one-per-interval rule.
// No-op if urlOrID is not found.
func (p *Pool) MarkUnhealthy(urlOrID string, reason string) {
	ep := p.manager.Find(urlOrID)
	if ep == nil {
		return
	}
	if ep.MarkUnhealthyManual(reason) {
		p.emitAlert(ep, reason)
	}
}

// Status returns a snapshot of every endpoint, in insertion order.
func (p *Pool) Status() []endpoint.Status {
	endpoints := p.manager.All()
	out := make([]endpoint.Status, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, e.Snapshot())
	}
	return out
}

// LastUsed returns the snapshot recorded by the most recent Forward call,
// or (Status{}, false) if Forward has never been called.
func (p *Pool) LastUsed() (endpoint.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasLatest {
		return endpoint.Status{}, false
	}
	return *p.lastUsed, true
}

func (p *Pool) setLastUsed(s endpoint.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUsed = &s
	p.hasLatest = true
}
