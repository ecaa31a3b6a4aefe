// Package alert implements the gateway's fire-and-forget alert dispatch:
// an AlertEvent is built on every healthy->unhealthy endpoint transition
// and handed off to an external Sink without blocking the request path.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"rpc-gateway/internal/ratelimit"
)

// Event is the one-shot notification emitted on each Healthy->Unhealthy
// transition. TimestampMs is milliseconds since the Unix epoch.
type Event struct {
	EndpointID          string
	URL                 string
	RouteID             string
	ConsecutiveFailures int
	LastError           string
	TimestampMs         int64
}

// Sink is the external collaborator notified of alert events. Production
// binaries wire this to e.g. a Telegram webhook; only the contract is
// specified here.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Dispatcher hands events off to a Sink without blocking the caller.
// Sink errors and panics are caught and logged; they never propagate.
type Dispatcher struct {
	sink    Sink
	limiter *ratelimit.Limiter
	timeout time.Duration

	mu      sync.Mutex
	recent  []Event
	maxKept int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRateLimit caps how many sink deliveries per second the dispatcher
// will start, holding the excess in the limiter's Wait. An event whose
// wait would outlast the sink timeout is dropped and logged. A rate
// <= 0 means unlimited.
func WithRateLimit(eventsPerSecond float64) Option {
	return func(d *Dispatcher) { d.limiter = ratelimit.New(eventsPerSecond) }
}

// WithSinkTimeout bounds the whole delivery of one event: the limiter
// wait and every retry attempt share a single context with this
// deadline, which is also passed to the sink. A sink that ignores its
// context is not interrupted.
func WithSinkTimeout(d time.Duration) Option {
	return func(dd *Dispatcher) { dd.timeout = d }
}

// NewDispatcher builds a Dispatcher. A nil sink is valid: events are
// recorded in history but nothing is notified, matching "onUnhealthy not
// configured" in spec.md §4.4.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		limiter: ratelimit.New(0),
		timeout: 5 * time.Second,
		maxKept: 50,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch hands off event for asynchronous delivery and returns
// immediately. Safe to call concurrently.
func (d *Dispatcher) Dispatch(event Event) {
	d.record(event)

	if d.sink == nil {
		return
	}

	go d.deliver(event)
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("endpoint_id", event.EndpointID).
				Msg("alert sink panicked; recovered")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Str("endpoint_id", event.EndpointID).Msg("alert rate limiter wait failed")
		return
	}

	err := retry.Do(
		func() error { return d.sink.Notify(ctx, event) },
		retry.Attempts(3),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint_id", event.EndpointID).
			Str("url", event.URL).
			Msg("alert sink delivery failed after retries")
	}
}

func (d *Dispatcher) record(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recent) >= d.maxKept {
		d.recent = append(d.recent[1:], event)
	} else {
		d.recent = append(d.recent, event)
	}
}

// Recent returns the most recently dispatched events, newest last. Used
// by test harnesses; not part of the wire contract.
func (d *Dispatcher) Recent() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.recent))
	copy(out, d.recent)
	return out
}

// NowMs returns the current time in milliseconds since the Unix epoch, the
// unit spec.md §6 mandates for AlertEvent.timestamp.
func NowMs(t time.Time) int64 {
	return t.UnixMilli()
}

func (e Event) String() string {
	return fmt.Sprintf("alert(endpoint=%s url=%s failures=%d)", e.EndpointID, e.URL, e.ConsecutiveFailures)
}
