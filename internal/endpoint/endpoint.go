// Package endpoint models a single upstream JSON-RPC target and its
// mutable health state, plus the manager that owns a pool's endpoint list.
package endpoint

import (
	"fmt"
	"sync"
	"time"
)

// Config is the caller-supplied description of one upstream endpoint.
// It is normalized into an Endpoint at Pool construction and is immutable
// thereafter.
type Config struct {
	URL            string
	Weight         int // dead metadata: selection is strictly round-robin, see Pool.Select
	Priority       int // dead metadata: selection is strictly round-robin, see Pool.Select
	Headers        map[string]string
	TimeoutMs      int
	Methods        []string // whitelist; absent/empty means "no restriction"
	BlockedMethods []string // blocklist; wins over the whitelist on conflict
}

// Endpoint is the runtime, mutable counterpart of a Config.
type Endpoint struct {
	ID      string
	URL     string
	Headers map[string]string
	Timeout time.Duration

	methods        map[string]struct{}
	blockedMethods map[string]struct{}
	hasWhitelist   bool

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	lastLatencyMs       *int64
	lastError           *string
	alertSent           bool
}

// New normalizes a Config into an Endpoint with the given stable id.
// Fails if the config has no URL.
func New(id string, cfg Config) (*Endpoint, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("endpoint %s: url is required", id)
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	var timeout time.Duration
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	e := &Endpoint{
		ID:      id,
		URL:     cfg.URL,
		Headers: headers,
		Timeout: timeout,
		healthy: true,
	}

	if len(cfg.Methods) > 0 {
		e.hasWhitelist = true
		e.methods = toSet(cfg.Methods)
	}
	if len(cfg.BlockedMethods) > 0 {
		e.blockedMethods = toSet(cfg.BlockedMethods)
	}

	return e, nil
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Supports reports whether the endpoint may serve the given method: the
// blocklist always wins, then the whitelist (when configured) must
// contain the method.
func (e *Endpoint) Supports(method string) bool {
	if e.blockedMethods != nil {
		if _, blocked := e.blockedMethods[method]; blocked {
			return false
		}
	}
	if !e.hasWhitelist {
		return true
	}
	_, ok := e.methods[method]
	return ok
}

// SupportsAll reports whether the endpoint supports every method in the
// given list. An empty list is trivially supported.
func (e *Endpoint) SupportsAll(methods []string) bool {
	for _, m := range methods {
		if !e.Supports(m) {
			return false
		}
	}
	return true
}

// Status is a point-in-time, value-copy snapshot of an Endpoint's health.
type Status struct {
	ID                  string
	URL                 string
	Healthy             bool
	ConsecutiveFailures int
	LastLatencyMs       *int64
	LastError           *string
}

// Snapshot returns the current Status of the endpoint.
func (e *Endpoint) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Endpoint) snapshotLocked() Status {
	return Status{
		ID:                  e.ID,
		URL:                 e.URL,
		Healthy:             e.healthy,
		ConsecutiveFailures: e.consecutiveFailures,
		LastLatencyMs:       e.lastLatencyMs,
		LastError:           e.lastError,
	}
}

// IsHealthy reports the endpoint's current health flag.
func (e *Endpoint) IsHealthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// Transition describes the health-state change (if any) a mutation caused.
type Transition int

const (
	// NoTransition means the endpoint's healthy flag did not change.
	NoTransition Transition = iota
	// BecameUnhealthy means the endpoint just flipped healthy -> unhealthy.
	BecameUnhealthy
	// BecameHealthy means the endpoint just flipped unhealthy -> healthy.
	BecameHealthy
)

// MarkSuccess resets the failure counter and restores health. Always
// clears alertSent. Returns BecameHealthy if this was a recovery.
func (e *Endpoint) MarkSuccess(latencyMs int64) Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasHealthy := e.healthy
	e.consecutiveFailures = 0
	e.healthy = true
	e.lastError = nil
	e.alertSent = false
	e.lastLatencyMs = &latencyMs

	if !wasHealthy {
		return BecameHealthy
	}
	return NoTransition
}

// MarkFailure records a failed outcome (soft or hard). latencyMs is nil
// for hard failures, where no HTTP response was produced. Returns
// (BecameUnhealthy, true) if this failure just crossed failureThreshold
// while the endpoint was healthy and an alert should be emitted;
// alertSent is set before returning, guaranteeing at-most-one emission
// per unhealthy interval.
func (e *Endpoint) MarkFailure(errMsg string, latencyMs *int64, failureThreshold int) (Transition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures++
	e.lastError = &errMsg
	if latencyMs != nil {
		e.lastLatencyMs = latencyMs
	}

	if e.healthy && e.consecutiveFailures >= failureThreshold {
		e.healthy = false
		if !e.alertSent {
			e.alertSent = true
			return BecameUnhealthy, true
		}
		return BecameUnhealthy, false
	}
	return NoTransition, false
}

// MarkHealthyManual is the manual markHealthy override: resets counters
// and restores health regardless of prior state.
func (e *Endpoint) MarkHealthyManual() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	e.consecutiveFailures = 0
	e.lastError = nil
	e.alertSent = false
}

// MarkUnhealthyManual is the manual markUnhealthy override. Returns true
// if an alert should be emitted: either this is a fresh healthy->unhealthy
// transition, or no alert has yet been sent for the current unhealthy
// interval. alertSent is set before returning to guarantee at-most-one
// emission per interval.
func (e *Endpoint) MarkUnhealthyManual(reason string) (shouldAlert bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasHealthy := e.healthy
	e.healthy = false
	if reason != "" {
		e.lastError = &reason
	}

	if wasHealthy || !e.alertSent {
		e.alertSent = true
		return true
	}
	return false
}

// FailureCount returns the current consecutive failure count.
func (e *Endpoint) FailureCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveFailures
}
