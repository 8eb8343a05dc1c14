package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/session"
)

// StartRunRequest is the body of POST /v1/runs.
type StartRunRequest struct {
	SessionID string `json:"sessionId"`
	// Source is the design to converge. Empty reuses the session's last
	// source.
	Source     string `json:"source,omitempty"`
	SessionDir string `json:"sessionDir,omitempty"`
}

// StartRunResponse is returned by POST /v1/runs.
type StartRunResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	EventsURL string `json:"eventsUrl"`
}

// Server exposes convergence runs over HTTP: start, inspect, cancel, and
// follow their event streams. It can also serve local collaborators over
// JSON-RPC at /rpc.
type Server struct {
	ctrl     *orchestrator.Controller
	runs     *RunStore
	sessions session.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	compiler  circuit.Compiler
	reviewer  circuit.Reviewer
	previewer circuit.Previewer

	keepAlive time.Duration

	http     *http.Server
	listener net.Listener

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessions enables session context: baselines are read before a run and
// converged designs written back after it.
func WithSessions(s session.Store) ServerOption {
	return func(srv *Server) { srv.sessions = s }
}

// WithCollaborators serves the given collaborators at POST /rpc. Any of them
// may be nil.
func WithCollaborators(c circuit.Compiler, r circuit.Reviewer, p circuit.Previewer) ServerOption {
	return func(srv *Server) {
		srv.compiler, srv.reviewer, srv.previewer = c, r, p
	}
}

// WithGatherer sets the metrics source for /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(srv *Server) { srv.gatherer = g }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(srv *Server) { srv.logger = l }
}

// WithRunRetention bounds how long finished runs stay queryable and how many
// runs the registry holds. Zero values keep the defaults.
func WithRunRetention(ttl time.Duration, maxRuns int) ServerOption {
	return func(s *Server) {
		s.runs = NewRunStore(WithRunTTL(ttl), WithMaxRuns(maxRuns))
	}
}

// WithKeepAlive sets the SSE keep-alive interval.
func WithKeepAlive(d time.Duration) ServerOption {
	return func(srv *Server) {
		if d > 0 {
			srv.keepAlive = d
		}
	}
}

// NewServer creates a Server that runs loops with ctrl.
func NewServer(ctrl *orchestrator.Controller, opts ...ServerOption) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		ctrl:      ctrl,
		runs:      NewRunStore(),
		gatherer:  prometheus.DefaultGatherer,
		keepAlive: 15 * time.Second,
		baseCtx:   ctx,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Runs returns the server's run registry.
func (s *Server) Runs() *RunStore {
	return s.runs
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", s.handleStartRun)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /v1/runs/{id}", s.handleCancelRun)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /rpc", s.handleJSONRPC)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start listens on addr and serves in a background goroutine.
func (s *Server) Start(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("remote: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	s.logger.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop cancels in-flight runs, waits for their terminal events and shuts
// the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// StartRun starts a convergence loop in the background and returns its
// registry entry.
func (s *Server) StartRun(ctx context.Context, req StartRunRequest) (*Run, error) {
	if req.SessionID == "" {
		return nil, errors.New("remote: sessionId is required")
	}
	oreq := orchestrator.Request{
		SessionID:  req.SessionID,
		Source:     req.Source,
		SessionDir: req.SessionDir,
	}
	if s.sessions != nil {
		c, ok, err := s.sessions.Get(ctx, req.SessionID)
		switch {
		case err != nil:
			s.logger.Warn("session lookup failed", "session_id", req.SessionID, "error", err)
		case ok:
			oreq.Baseline = c.LastConverged
			if oreq.Source == "" {
				oreq.Source = c.LastSource
			}
		}
	}
	if oreq.Source == "" {
		return nil, errors.New("remote: source is required")
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	run := s.runs.Create(req.SessionID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		res := s.ctrl.Run(runCtx, oreq, run.Events)
		if err := s.runs.Finish(run.ID, res); err != nil {
			s.logger.Error("record run result", "run_id", run.ID, "error", err)
		}
		s.remember(req.SessionID, res)
	}()

	s.logger.Info("run started", "run_id", run.ID, "session_id", req.SessionID)
	return run, nil
}

// remember writes a converged design back to the session store.
func (s *Server) remember(id string, res *orchestrator.Result) {
	if s.sessions == nil || res.Outcome != orchestrator.OutcomeConverged {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.RecordConverged(ctx, s.sessions, id, res.Circuit, res.Source, res.Findings()); err != nil {
		s.logger.Warn("session write failed", "session_id", id, "error", err)
	}
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	run, err := s.StartRun(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, StartRunResponse{
		ID:        run.ID,
		SessionID: run.SessionID,
		EventsURL: "/v1/runs/" + run.ID + "/events",
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.List())
}

// handleGetRun reports a run. After the terminal event it waits for the
// recorded result.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := s.runs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("run %q not found", id)})
		return
	}

	var (
		info RunInfo
		err  error
	)
	select {
	case <-run.Events.Done():
		info, err = s.runs.Wait(r.Context(), id)
	default:
		info, err = s.runs.Info(id)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.Cancel(r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents replays the run's events after Last-Event-ID (or the "after"
// query parameter) and then follows the stream until the terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	last := 0
	for _, v := range []string{r.Header.Get("Last-Event-ID"), r.URL.Query().Get("after")} {
		if n, err := strconv.Atoi(v); err == nil && n > last {
			last = n
		}
	}

	notify := make(chan struct{}, 1)
	sub := run.Events.Subscribe(func(orchestrator.Event) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer run.Events.Unsubscribe(sub)

	sw := NewSSEWriter(w)
	sw.Init()
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		for _, ev := range run.Events.Since(last) {
			if err := sw.WriteEvent(ev); err != nil {
				s.logger.Debug("event stream closed", "run_id", run.ID, "error", err)
				return
			}
			last = ev.Seq
			if ev.Type == orchestrator.EventTerminal {
				return
			}
		}
		if run.Events.Closed() && last >= run.Events.Len() {
			return
		}
		select {
		case <-notify:
		case <-run.Events.Done():
		case <-ticker.C:
			if err := sw.WriteComment("keep-alive"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Collaborator JSON-RPC
// ---------------------------------------------------------------------------

// handleJSONRPC serves the local collaborators to remote loops.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, ErrCodeParse, "Parse error: "+err.Error(), nil)
		return
	}
	ctx := r.Context()

	switch req.Method {
	case MethodCompile:
		if s.compiler == nil {
			break
		}
		var params circuit.Request
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error(), nil)
			return
		}
		c, err := s.compiler.Compile(ctx, params)
		respond(w, req.ID, c, err)
		return
	case MethodReview:
		if s.reviewer == nil {
			break
		}
		var params circuit.Circuit
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error(), nil)
			return
		}
		rev, err := s.reviewer.Review(ctx, &params)
		respond(w, req.ID, rev, err)
		return
	case MethodPreview:
		if s.previewer == nil {
			break
		}
		var params circuit.Circuit
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error(), nil)
			return
		}
		p, err := s.previewer.Preview(ctx, &params)
		respond(w, req.ID, p, err)
		return
	}
	writeJSONRPCError(w, req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
}

// respond maps a collaborator result onto the wire.
func respond(w http.ResponseWriter, id any, result any, err error) {
	var ce *circuit.CompileError
	switch {
	case err == nil:
		writeJSONRPCResult(w, id, result)
	case errors.As(err, &ce):
		data, _ := json.Marshal(compileErrorData{Line: ce.Line})
		writeJSONRPCError(w, id, ErrCodeCompile, ce.Message, data)
	case errors.Is(err, circuit.ErrUnavailable):
		writeJSONRPCError(w, id, ErrCodeUnavailable, err.Error(), nil)
	default:
		writeJSONRPCError(w, id, ErrCodeInternal, err.Error(), nil)
	}
}

// writeJSONRPCResult writes a successful JSON-RPC response.
func writeJSONRPCResult(w http.ResponseWriter, id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		writeJSONRPCError(w, id, ErrCodeInternal, "Failed to marshal result: "+err.Error(), nil)
		return
	}
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  data,
	})
}

// writeJSONRPCError writes a JSON-RPC error response.
func writeJSONRPCError(w http.ResponseWriter, id any, code int, message string, data json.RawMessage) {
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
