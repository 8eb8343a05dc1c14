// Package orchestrator drives the attempt-bounded compile, validate, classify
// and repair loop and turns every state transition into a progress event.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/classify"
	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/preflight"
	"github.com/dusk-indust/circuitloop/internal/repair"
	"github.com/dusk-indust/circuitloop/internal/source"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// Request is one convergence run.
type Request struct {
	SessionID  string `json:"sessionId"`
	Source     string `json:"source"`
	SessionDir string `json:"sessionDir,omitempty"`

	// Baseline is the last converged circuit of the session, if any. It is
	// only read by the manufacturing preview.
	Baseline *circuit.Circuit `json:"baseline,omitempty"`
}

// Result is everything a run produced.
type Result struct {
	SessionID string                `json:"sessionId"`
	Outcome   Outcome               `json:"outcome"`
	Summary   FinalSummary          `json:"summary"`
	Source    string                `json:"source"`
	Circuit   *circuit.Circuit      `json:"circuit,omitempty"`
	Review    *circuit.Review       `json:"review,omitempty"`
	Plans     []strategy.RepairPlan `json:"plans"`
	Repairs   []RepairResult        `json:"repairs"`
	Diffs     []IterationDiff       `json:"diffs"`
	Preview   *circuit.Preview      `json:"preview,omitempty"`
	Err       error                 `json:"-"`

	Events *Emitter `json:"-"`
}

// Findings renders the last review's diagnostics, one line each.
func (r *Result) Findings() []string {
	if r.Review == nil {
		return nil
	}
	out := make([]string, 0, len(r.Review.Diagnostics))
	for _, d := range r.Review.Diagnostics {
		out = append(out, d.String())
	}
	return out
}

// Controller runs convergence loops. It holds no state between runs and is
// safe for concurrent use by independent sessions.
type Controller struct {
	cfg       Config
	compiler  circuit.Compiler
	reviewer  circuit.Reviewer
	previewer circuit.Previewer
	syntax    source.SyntaxChecker
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithPreviewer enables the manufacturing preview for runs with a baseline.
func WithPreviewer(p circuit.Previewer) Option {
	return func(c *Controller) { c.previewer = p }
}

// WithSyntaxChecker enables the preflight syntax gate.
func WithSyntaxChecker(s source.SyntaxChecker) Option {
	return func(c *Controller) { c.syntax = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a Controller.
func New(cfg Config, compiler circuit.Compiler, reviewer circuit.Reviewer, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg.withDefaults(),
		compiler: compiler,
		reviewer: reviewer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// run is the mutable state of one Run call. It is owned by the calling
// goroutine; only the preview goroutine runs alongside it and it writes
// nothing but preview.
type run struct {
	c          *Controller
	cfg        Config
	req        Request
	em         *Emitter
	log        *slog.Logger
	classifier classify.Classifier
	analyzer   *preflight.Analyzer
	applier    *repair.Applier

	state   State
	attempt int
	used    int
	text    string
	history classify.History
	last    classify.Classification
	prev    *strategy.Outcome

	circ    *circuit.Circuit
	review  *circuit.Review
	plans   []strategy.RepairPlan
	repairs []RepairResult
	diffs   []IterationDiff

	previews *errgroup.Group
	preview  *circuit.Preview

	result *Result
}

// Run executes the loop until it converges, exhausts the budget, is
// cancelled or hits an unavailable collaborator. It never panics and always
// ends em with exactly one terminal event. A nil em gets a fresh Emitter,
// returned in Result.Events.
func (c *Controller) Run(ctx context.Context, req Request, em *Emitter) (res *Result) {
	if em == nil {
		em = NewEmitter(WithSessionID(req.SessionID), WithEmitterLogger(c.logger))
	}
	r := &run{
		c:          c,
		cfg:        c.cfg,
		req:        req,
		em:         em,
		log:        c.logger.With("session_id", req.SessionID),
		classifier: classify.Classifier{DemoteAfterAttempts: c.cfg.DemoteAfterAttempts},
		analyzer:   &preflight.Analyzer{Syntax: c.syntax, Logger: c.logger},
		applier:    repair.NewApplier(c.cfg.Repair, c.logger),
		text:       req.Source,
		last: classify.Classification{
			AutoFixableFamilies:  []diagnostic.Family{},
			ShouldDemoteFamilies: []diagnostic.Family{},
			MustRepairFamilies:   []diagnostic.Family{},
		},
	}

	ctx, span := tracer.Start(ctx, "orchestrator.Run",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.Int("attempt.budget", r.cfg.AttemptBudget),
		))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("orchestrator: recovered panic: %v", p)
			r.log.Error("convergence loop panicked", "panic", p, "attempt", r.attempt)
			res = r.finish(OutcomeError, err)
		}
		if res.Err != nil && res.Outcome == OutcomeError {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(
			attribute.String("outcome", string(res.Outcome)),
			attribute.Int("attempts.used", res.Summary.AttemptsUsed),
		)
	}()

	r.startPreview(ctx)

	r.log.Info("convergence started", "budget", r.cfg.AttemptBudget)
	outcome, err := r.loop(ctx)
	return r.finish(outcome, err)
}

func (r *run) loop(ctx context.Context) (Outcome, error) {
	for r.attempt = 0; r.attempt < r.cfg.AttemptBudget; r.attempt++ {
		if err := ctx.Err(); err != nil {
			return OutcomeCancelled, err
		}
		done, outcome, err := r.runAttempt(ctx)
		if done {
			return outcome, err
		}
	}
	return OutcomeExhausted, nil
}

// runAttempt performs one attempt. It reports done together with the
// outcome when the loop must stop.
func (r *run) runAttempt(ctx context.Context) (bool, Outcome, error) {
	start := time.Now()
	attemptsTotal.Inc()
	defer func() { attemptDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(ctx, "orchestrator.Attempt",
		trace.WithAttributes(attribute.Int("attempt", r.attempt)))
	defer span.End()

	r.used = r.attempt + 1
	r.emit(EventAttemptStarted, AttemptStarted{Attempt: r.attempt, Budget: r.cfg.AttemptBudget})
	r.transition(StateCompiling)
	r.log.Info("attempt started", "attempt", r.attempt)

	before, err := r.validate(ctx, r.text, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, failureOutcome(err), err
	}

	r.transition(StateClassifying)
	cls := r.classifier.Classify(before.diags, r.history)
	r.history = r.history.Advance(before.diags)
	r.last = cls
	r.keep(before)
	span.SetAttributes(attribute.Int("blocking", cls.BlockingCount()))

	if cls.BlockingCount() == 0 {
		r.transition(StateClean)
		return true, OutcomeConverged, nil
	}
	if before.aborted {
		r.log.Warn("attempt aborted by compiler failure", "attempt", r.attempt)
		return r.next()
	}

	r.transition(StateRepairing)
	plan := strategy.Select(strategy.Input{
		Attempt:             r.attempt,
		AutoFixable:         cls.AutoFixableFamilies,
		ShouldDemote:        cls.ShouldDemoteFamilies,
		MustRepair:          cls.MustRepairFamilies,
		CongestedComponents: congested(cls),
		ComponentCount:      componentCount(r.text, before.circuit),
		Previous:            r.prev,
	})
	strategyTotal.WithLabelValues(string(plan.Strategy), strconv.FormatBool(plan.Escalated)).Inc()
	r.plans = append(r.plans, plan)
	r.emit(EventRepairPlan, plan)
	span.SetAttributes(attribute.String("strategy", string(plan.Strategy)))

	out, err := r.applier.Apply(ctx, plan, r.text, cls.Diagnostics)
	if err != nil {
		if ctx.Err() != nil {
			return true, OutcomeCancelled, ctx.Err()
		}
		r.log.Warn("repair could not be applied", "attempt", r.attempt, "strategy", plan.Strategy, "error", err)
		out = repair.Outcome{Source: r.text, Applied: plan.Strategy, Actions: out.Actions}
	}

	r.transition(StateRevalidating)
	after, err := r.validate(ctx, out.Source, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, failureOutcome(err), err
	}
	afterCls := r.classifier.Classify(after.diags, r.history)

	result := RepairResult{
		Attempt:        r.attempt,
		Strategy:       string(out.Applied),
		BlockingBefore: cls.BlockingCount(),
		BlockingAfter:  afterCls.BlockingCount(),
		Demoted:        cls.DemotedCount(),
		AutoFixed:      autoFixed(cls, afterCls),
		Revalidated:    true,
		Actions:        append([]repair.Action{}, out.Actions...),
	}
	r.repairs = append(r.repairs, result)
	r.emit(EventRepairResult, result)

	diff := Diff(r.attempt, r.text, before.circuit, out.Source, after.circuit)
	r.diffs = append(r.diffs, diff)
	r.emit(EventIterationDiff, diff)

	r.prev = &strategy.Outcome{Strategy: plan.Strategy, Reduced: result.Reduced()}
	r.text = out.Source
	r.last = afterCls
	r.keep(after)

	r.log.Info("attempt repaired",
		"attempt", r.attempt,
		"strategy", out.Applied,
		"blocking_before", result.BlockingBefore,
		"blocking_after", result.BlockingAfter)

	if afterCls.BlockingCount() == 0 {
		return true, OutcomeConverged, nil
	}
	return r.next()
}

// next decides between retrying and exhaustion after an unsuccessful
// attempt.
func (r *run) next() (bool, Outcome, error) {
	if r.attempt+1 >= r.cfg.AttemptBudget {
		return true, OutcomeExhausted, nil
	}
	r.transition(StateRetrying)
	return false, "", nil
}

func failureOutcome(err error) Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeCancelled
	}
	return OutcomeError
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

type validation struct {
	diags   []diagnostic.Diagnostic
	circuit *circuit.Circuit
	review  *circuit.Review
	// aborted is set when the compiler failed for reasons other than the
	// design; there is nothing to repair.
	aborted bool
}

// validate runs preflight and, unless preflight found a must-repair defect,
// compile plus review. Errors are returned only for conditions that end the
// run: an unavailable collaborator or cancellation.
func (r *run) validate(ctx context.Context, text string, revalidating bool) (validation, error) {
	if !revalidating {
		r.transition(StatePreflighting)
	}
	pre := r.analyzer.Run(ctx, text)
	skip := r.classifier.Classify(pre, r.history).BlockingCount() > 0
	r.emit(EventPreflightDiagnostics, Diagnostics{Diagnostics: pre, CompileSkipped: skip})
	if skip {
		return validation{diags: pre}, nil
	}

	if !revalidating {
		r.transition(StateValidating)
	}
	c, rev, err := r.compileAndReview(ctx, text)

	var v validation
	var ce *circuit.CompileError
	switch {
	case err == nil:
		v.circuit, v.review = c, rev
		v.diags = append(v.diags, rev.Diagnostics...)
	case errors.Is(err, circuit.ErrUnavailable):
		return validation{}, err
	case ctx.Err() != nil:
		return validation{}, ctx.Err()
	case errors.As(err, &ce):
		compileFailures.WithLabelValues("design").Inc()
		v.diags = append(v.diags, diagnostic.New(diagnostic.CategoryCompileFailure, ce.Message,
			diagnostic.WithSource(diagnostic.SourceCompiler),
			diagnostic.WithLine(ce.Line),
			diagnostic.WithSubject(ce.Message)))
	case errors.Is(err, context.DeadlineExceeded):
		compileFailures.WithLabelValues("timeout").Inc()
		v.aborted = true
		v.diags = append(v.diags, diagnostic.New(diagnostic.CategoryCompileTimeout,
			fmt.Sprintf("compile and review exceeded the %s attempt budget", r.cfg.AttemptTimeout),
			diagnostic.WithSource(diagnostic.SourceCompiler),
			diagnostic.WithSubject("attempt timeout")))
	default:
		compileFailures.WithLabelValues("tool").Inc()
		v.aborted = true
		v.diags = append(v.diags, diagnostic.New(diagnostic.CategoryCompileFailure, err.Error(),
			diagnostic.WithSource(diagnostic.SourceCompiler),
			diagnostic.WithSubject("compiler failure")))
	}
	v.diags = diagnostic.Merge(pre, diagnostic.Dedupe(v.diags))
	r.emit(EventCompileDiagnostics, Diagnostics{Diagnostics: v.diags})
	return v, nil
}

type compiled struct {
	circuit *circuit.Circuit
	review  *circuit.Review
	err     error
}

// compileAndReview calls both collaborators under the attempt timeout.
// Collaborator panics are converted into errors. A collaborator that ignores
// its context is abandoned when the timeout fires.
func (r *run) compileAndReview(ctx context.Context, text string) (*circuit.Circuit, *circuit.Review, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	ch := make(chan compiled, 1)
	go func() {
		var out compiled
		defer func() {
			if p := recover(); p != nil {
				out = compiled{err: fmt.Errorf("orchestrator: collaborator panicked: %v", p)}
			}
			ch <- out
		}()
		c, err := r.c.compiler.Compile(actx, circuit.Request{Source: text, SessionDir: r.req.SessionDir})
		if err != nil {
			out.err = err
			return
		}
		if c == nil {
			out.err = errors.New("orchestrator: compiler returned no circuit")
			return
		}
		rev, err := r.c.reviewer.Review(actx, c)
		if err != nil {
			out.err = fmt.Errorf("review: %w", err)
			return
		}
		if rev == nil {
			rev = &circuit.Review{}
		}
		out = compiled{circuit: c, review: rev}
	}()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil, fmt.Errorf("orchestrator: attempt timed out: %w", context.DeadlineExceeded)
		}
		return out.circuit, out.review, out.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("orchestrator: attempt exceeded %s: %w", r.cfg.AttemptTimeout, context.DeadlineExceeded)
	}
}

func (r *run) keep(v validation) {
	if v.circuit != nil {
		r.circ = v.circuit
		r.review = v.review
	}
}

// congested returns the sorted components named by must-repair congestion
// diagnostics.
func congested(cls classify.Classification) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range cls.Blocking() {
		if d.Family.Concern() != diagnostic.ConcernCongestion {
			continue
		}
		refs := d.Components
		if len(refs) == 0 && d.Target.Component != "" {
			refs = []string{d.Target.Component}
		}
		for _, ref := range refs {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	sort.Strings(out)
	return out
}

func componentCount(text string, c *circuit.Circuit) int {
	if c != nil {
		return len(c.Components)
	}
	return len(source.Parse(text).Components())
}

// autoFixed counts auto-fixable diagnostics that no longer appear after the
// repair.
func autoFixed(before, after classify.Classification) int {
	remaining := diagnostic.Signatures(after.Diagnostics)
	n := 0
	for _, d := range before.With(diagnostic.HandlingAutoFixable) {
		if !remaining[d.Signature] {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

// startPreview generates the manufacturing preview of the session's baseline
// alongside the first attempt. Failures are logged and never affect the run.
func (r *run) startPreview(ctx context.Context) {
	p := r.c.previewer
	if p == nil || r.req.Baseline == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Warn("manufacturing preview panicked", "panic", rec)
			}
		}()
		prev, err := p.Preview(gctx, r.req.Baseline)
		if err != nil {
			r.log.Warn("manufacturing preview failed", "error", err)
			return nil
		}
		r.preview = prev
		return nil
	})
	r.previews = g
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func (r *run) emit(typ EventType, data any) {
	if _, err := r.em.Emit(typ, r.attempt, r.state, data); err != nil {
		r.log.Debug("event dropped", "type", typ, "error", err)
	}
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.emit(EventStateChanged, StateChange{From: from, To: to})
}

// finish emits the terminal state, the summary and the terminal event, in
// that order. It runs once per Run.
func (r *run) finish(outcome Outcome, err error) *Result {
	if r.result != nil {
		return r.result
	}
	if r.previews != nil {
		_ = r.previews.Wait()
	}

	summary := summarize(outcome, r.last, r.used, r.cfg.AttemptBudget)
	runsTotal.WithLabelValues(string(outcome)).Inc()
	readinessScore.Observe(float64(summary.ReadinessScore))

	r.result = &Result{
		SessionID: r.req.SessionID,
		Outcome:   outcome,
		Summary:   summary,
		Source:    r.text,
		Circuit:   r.circ,
		Review:    r.review,
		Plans:     r.plans,
		Repairs:   r.repairs,
		Diffs:     r.diffs,
		Preview:   r.preview,
		Err:       err,
		Events:    r.em,
	}

	r.transition(outcome.State())
	r.emit(EventSummary, summary)
	term := Terminal{Outcome: outcome}
	if err != nil {
		term.Error = err.Error()
	}
	r.emit(EventTerminal, term)

	r.log.Info("convergence finished",
		"outcome", outcome,
		"attempts_used", summary.AttemptsUsed,
		"readiness", summary.ReadinessScore,
		"blocking", summary.BlockingCount)
	return r.result
}
