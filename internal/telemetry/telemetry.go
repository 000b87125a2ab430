// Package telemetry emits structured per-call events for upstream requests.
// Emission never blocks or fails the response path: events are buffered and
// dropped when the buffer is full.
package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event names. One "call" event is emitted per completed logical call (after
// all retries); one "retry" event per retry attempt. A cancelled call emits
// a "cancelled" event instead of a "call" event.
const (
	EventCall      = "discogs_proxy_call"
	EventRetry     = "transient_retry"
	EventCancelled = "discogs_proxy_cancelled"
)

// Event is one telemetry record. The trace identifier is generated once at
// request entry so all retry attempts for a logical call correlate.
type Event struct {
	Name      string
	Entity    string
	Method    string
	Status    int
	ElapsedMS float64
	TraceID   string

	// Retry-only fields.
	Attempt   int
	BackoffMS float64
	ErrorType string
}

// Sink receives telemetry events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// Emitter is a Sink that drains events to slog from a background goroutine.
type Emitter struct {
	ch      chan Event
	logger  *slog.Logger
	dropped atomic.Int64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewEmitter creates and starts an Emitter with the given buffer size.
func NewEmitter(logger *slog.Logger, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &Emitter{
		ch:     make(chan Event, buffer),
		logger: logger.With("component", "telemetry"),
	}
	e.wg.Add(1)
	go e.drain()
	return e
}

// Emit enqueues an event. When the buffer is full or the emitter is closed
// the event is dropped rather than blocking the response path.
func (e *Emitter) Emit(ev Event) {
	if e.closed.Load() {
		e.dropped.Add(1)
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded so far.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain.
func (e *Emitter) Close() {
	if e.closed.Swap(true) {
		return
	}
	close(e.ch)
	e.wg.Wait()
	if n := e.dropped.Load(); n > 0 {
		e.logger.Warn("telemetry events dropped", "count", n)
	}
}

func (e *Emitter) drain() {
	defer e.wg.Done()
	for ev := range e.ch {
		switch ev.Name {
		case EventRetry:
			e.logger.Warn(ev.Name,
				"entity", ev.Entity,
				"trace_id", ev.TraceID,
				"attempt", ev.Attempt,
				"backoff_ms", ev.BackoffMS,
				"error_type", ev.ErrorType,
			)
		case EventCancelled:
			e.logger.Info(ev.Name,
				"entity", ev.Entity,
				"method", ev.Method,
				"elapsed_ms", ev.ElapsedMS,
				"trace_id", ev.TraceID,
			)
		default:
			e.logger.Info(ev.Name,
				"entity", ev.Entity,
				"method", ev.Method,
				"status", ev.Status,
				"elapsed_ms", ev.ElapsedMS,
				"trace_id", ev.TraceID,
			)
		}
	}
}
