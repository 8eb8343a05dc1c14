package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/circuitloop/internal/orchestrator"
)

// Run is one convergence loop started through the server.
type Run struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Events    *orchestrator.Emitter

	cancel     context.CancelFunc
	result     *orchestrator.Result
	finished   chan struct{}
	finishedAt time.Time
}

// RunInfo is the JSON view of a Run.
type RunInfo struct {
	ID        string                     `json:"id"`
	SessionID string                     `json:"sessionId"`
	CreatedAt time.Time                  `json:"createdAt"`
	Done      bool                       `json:"done"`
	Events    int                        `json:"events"`
	Outcome   orchestrator.Outcome       `json:"outcome,omitempty"`
	Summary   *orchestrator.FinalSummary `json:"summary,omitempty"`
	Source    string                     `json:"source,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// Retention defaults for finished runs.
const (
	DefaultRunTTL  = time.Hour
	DefaultMaxRuns = 500
)

// RunStore is a concurrency-safe in-memory registry of runs. A separate
// slice keeps insertion order for listing. Finished runs are evicted once
// they are older than the TTL, or oldest first while the store holds more
// than the maximum; running loops are never evicted.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	orderIDs []string

	ttl     time.Duration
	maxRuns int
	now     func() time.Time
}

// RunStoreOption configures a RunStore.
type RunStoreOption func(*RunStore)

// WithRunTTL sets how long finished runs are kept. Zero keeps the default.
func WithRunTTL(d time.Duration) RunStoreOption {
	return func(s *RunStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxRuns caps the number of runs held. Zero keeps the default.
func WithMaxRuns(n int) RunStoreOption {
	return func(s *RunStore) {
		if n > 0 {
			s.maxRuns = n
		}
	}
}

func withClock(now func() time.Time) RunStoreOption {
	return func(s *RunStore) { s.now = now }
}

// NewRunStore returns an empty RunStore.
func NewRunStore(opts ...RunStoreOption) *RunStore {
	s := &RunStore{
		runs:     make(map[string]*Run),
		orderIDs: make([]string, 0),
		ttl:      DefaultRunTTL,
		maxRuns:  DefaultMaxRuns,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new run for sessionID with a fresh event stream.
// cancel is invoked by Cancel.
func (s *RunStore) Create(sessionID string, cancel context.CancelFunc) *Run {
	id := uuid.NewString()
	r := &Run{
		ID:        id,
		SessionID: sessionID,
		CreatedAt: s.now().UTC(),
		Events:    orchestrator.NewEmitter(orchestrator.WithSessionID(sessionID)),
		cancel:    cancel,
		finished:  make(chan struct{}),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.runs[id] = r
	s.orderIDs = append(s.orderIDs, id)
	return r
}

// Get returns the run with the given ID.
func (s *RunStore) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// Info returns the JSON view of the run with the given ID.
func (s *RunStore) Info(id string) (RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return RunInfo{}, fmt.Errorf("run %q not found", id)
	}
	return info(r), nil
}

// List returns every run in insertion order.
func (s *RunStore) List() []RunInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunInfo, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		out = append(out, info(s.runs[id]))
	}
	return out
}

// Finish records the result of a run and releases Wait callers. A run
// finishes once.
func (s *RunStore) Finish(id string, res *orchestrator.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %q not found", id)
	}
	if r.result != nil {
		return fmt.Errorf("run %q already finished", id)
	}
	r.result = res
	r.finishedAt = s.now()
	close(r.finished)
	return nil
}

// Wait returns the view of the run once its result is recorded.
func (s *RunStore) Wait(ctx context.Context, id string) (RunInfo, error) {
	r, ok := s.Get(id)
	if !ok {
		return RunInfo{}, fmt.Errorf("run %q not found", id)
	}
	select {
	case <-r.finished:
	case <-ctx.Done():
		return RunInfo{}, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return info(r), nil
}

// Cancel asks a running loop to stop before its next attempt.
func (s *RunStore) Cancel(id string) error {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run %q not found", id)
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// prune evicts finished runs past the TTL, then the oldest finished runs
// while the store is over capacity. Callers hold mu.
func (s *RunStore) prune() {
	cutoff := s.now().Add(-s.ttl)
	excess := len(s.orderIDs) - s.maxRuns + 1
	kept := s.orderIDs[:0]
	for _, id := range s.orderIDs {
		r := s.runs[id]
		if r.result != nil && (r.finishedAt.Before(cutoff) || excess > 0) {
			delete(s.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.orderIDs = kept
}

// info builds the view of r. Callers hold mu.
func info(r *Run) RunInfo {
	out := RunInfo{
		ID:        r.ID,
		SessionID: r.SessionID,
		CreatedAt: r.CreatedAt,
		Events:    r.Events.Len(),
	}
	if res := r.result; res != nil {
		sum := res.Summary
		out.Done = true
		out.Outcome = res.Outcome
		out.Summary = &sum
		out.Source = res.Source
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
	}
	return out
}
