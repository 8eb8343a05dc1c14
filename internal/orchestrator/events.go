package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// EventType identifies the kind of progress event.
type EventType string

const (
	EventAttemptStarted       EventType = "attempt_started"
	EventStateChanged         EventType = "state_changed"
	EventPreflightDiagnostics EventType = "preflight_diagnostics"
	EventCompileDiagnostics   EventType = "compile_diagnostics"
	EventRepairPlan           EventType = "repair_plan"
	EventRepairResult         EventType = "repair_result"
	EventIterationDiff        EventType = "iteration_diff"
	EventSummary              EventType = "summary"
	EventTerminal             EventType = "terminal"
)

// Event is one entry of a run's progress stream. Events are never modified
// after emission.
type Event struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	SessionID string    `json:"sessionId,omitempty"`
	Type      EventType `json:"type"`
	Attempt   int       `json:"attempt"`
	State     State     `json:"state"`
	Time      time.Time `json:"time"`
	Data      any       `json:"data,omitempty"`
}

// AttemptStarted is the payload of EventAttemptStarted.
type AttemptStarted struct {
	Attempt int `json:"attempt"`
	Budget  int `json:"budget"`
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	From State `json:"from,omitempty"`
	To   State `json:"to"`
}

// Diagnostics is the payload of both diagnostic events.
type Diagnostics struct {
	Diagnostics []diagnostic.Diagnostic `json:"diagnostics"`
	// CompileSkipped is set on preflight events when a must-repair preflight
	// finding means the compiler is not invoked this attempt.
	CompileSkipped bool `json:"compileSkipped,omitempty"`
}

// Terminal is the payload of EventTerminal.
type Terminal struct {
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// ErrClosed is returned by Emit once the terminal event has been emitted.
var ErrClosed = errors.New("orchestrator: event stream closed")

// Handler receives events synchronously, in emission order. A handler may
// call Emit: the new event is queued and delivered to every handler after
// the current one.
type Handler func(Event)

// Emitter keeps the append-only event log of one run and fans each event out
// to subscribers. Exactly one EventTerminal may be emitted; it closes the
// stream.
type Emitter struct {
	mu        sync.RWMutex
	sessionID string
	log       []Event
	subs      map[string]Handler
	order     []string
	done      chan struct{}
	closed    bool
	logger    *slog.Logger

	pending     []Event // emitted, not yet delivered
	dispatching bool
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithSessionID stamps every event with id.
func WithSessionID(id string) EmitterOption {
	return func(e *Emitter) { e.sessionID = id }
}

// WithEmitterLogger sets the logger used to report handler panics.
func WithEmitterLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// NewEmitter creates an empty event stream.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subs: make(map[string]Handler),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// SessionID returns the session the stream belongs to.
func (e *Emitter) SessionID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessionID
}

// Subscribe registers h for every event emitted from now on and returns the
// subscription ID.
func (e *Emitter) Subscribe(h Handler) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.subs[id] = h
	e.order = append(e.order, id)
	return id
}

// Unsubscribe removes a subscription. It reports whether id was known.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[id]; !ok {
		return false
	}
	delete(e.subs, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// Emit appends an event to the log and delivers it to every subscriber.
// The caller delivers it before returning unless another Emit is already
// delivering, in which case that call delivers it after the events queued
// ahead of it.
func (e *Emitter) Emit(typ EventType, attempt int, state State, data any) (Event, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Event{}, fmt.Errorf("%w: %s rejected", ErrClosed, typ)
	}
	ev := Event{
		ID:        uuid.NewString(),
		Seq:       len(e.log) + 1,
		SessionID: e.sessionID,
		Type:      typ,
		Attempt:   attempt,
		State:     state,
		Time:      time.Now().UTC(),
		Data:      data,
	}
	e.log = append(e.log, ev)
	if typ == EventTerminal {
		e.closed = true
	}
	e.pending = append(e.pending, ev)
	if e.dispatching {
		e.mu.Unlock()
		return ev, nil
	}
	e.dispatching = true
	e.mu.Unlock()

	e.dispatch()
	return ev, nil
}

// dispatch drains the pending queue. One goroutine dispatches at a time.
func (e *Emitter) dispatch() {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.dispatching = false
			e.mu.Unlock()
			return
		}
		ev := e.pending[0]
		e.pending = e.pending[1:]
		handlers := make([]Handler, 0, len(e.order))
		for _, id := range e.order {
			handlers = append(handlers, e.subs[id])
		}
		e.mu.Unlock()

		for _, h := range handlers {
			e.invoke(h, ev)
		}
		if ev.Type == EventTerminal {
			close(e.done)
		}
	}
}

func (e *Emitter) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				"event_type", ev.Type,
				"seq", ev.Seq,
				"panic", r)
		}
	}()
	h(ev)
}

// Events returns a copy of the log.
func (e *Emitter) Events() []Event {
	return e.Since(0)
}

// Since returns the events with Seq greater than seq.
func (e *Emitter) Since(seq int) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(e.log) {
		return nil
	}
	return append([]Event(nil), e.log[seq:]...)
}

// Len returns the number of events emitted so far.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.log)
}

// Closed reports whether the terminal event has been emitted.
func (e *Emitter) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Done is closed after the terminal event has been delivered.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// FormatEvent renders an event as a human-readable status line.
func FormatEvent(ev Event) string {
	switch d := ev.Data.(type) {
	case AttemptStarted:
		return fmt.Sprintf("[attempt %d/%d] started", d.Attempt+1, d.Budget)
	case StateChange:
		return fmt.Sprintf("  ● %s", d.To)
	case Diagnostics:
		suffix := ""
		if d.CompileSkipped {
			suffix = " (compile skipped)"
		}
		return fmt.Sprintf("  %s: %d diagnostic(s)%s", ev.Type, len(d.Diagnostics), suffix)
	case strategy.RepairPlan:
		return fmt.Sprintf("  plan: %s (%s)", d.Strategy, d.Reason)
	case RepairResult:
		return fmt.Sprintf("  repair: blocking %d → %d, %d action(s)", d.BlockingBefore, d.BlockingAfter, len(d.Actions))
	case IterationDiff:
		return fmt.Sprintf("  diff: +%d/-%d components, traces %+d, source +%d/-%d lines",
			len(d.ComponentsAdded), len(d.ComponentsRemoved), d.TraceCountDelta, d.SourceLinesAdded, d.SourceLinesRemoved)
	case FinalSummary:
		return fmt.Sprintf("  summary: readiness %d, %d blocking, %d warning(s)", d.ReadinessScore, d.BlockingCount, d.WarningCount)
	case Terminal:
		switch d.Outcome {
		case OutcomeConverged:
			return "  ✓ converged"
		case OutcomeError:
			return fmt.Sprintf("  ✗ error: %s", d.Error)
		default:
			return fmt.Sprintf("  ✗ %s", d.Outcome)
		}
	default:
		return fmt.Sprintf("  %s", ev.Type)
	}
}
