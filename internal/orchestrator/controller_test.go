package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/compile"
	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/review"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCompiler struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, req circuit.Request) (*circuit.Circuit, error)
}

func (f *fakeCompiler) Compile(ctx context.Context, req circuit.Request) (*circuit.Circuit, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call, req)
}

func (f *fakeCompiler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReviewer struct {
	fn func(ctx context.Context, c *circuit.Circuit) (*circuit.Review, error)
}

func (f *fakeReviewer) Review(ctx context.Context, c *circuit.Circuit) (*circuit.Review, error) {
	return f.fn(ctx, c)
}

type fakePreviewer struct {
	err error
}

func (f *fakePreviewer) Preview(_ context.Context, c *circuit.Circuit) (*circuit.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &circuit.Preview{Format: "bom", Content: c.Components[0].Name}, nil
}

func twoParts() *circuit.Circuit {
	return &circuit.Circuit{Components: []circuit.Component{
		{Name: "R1", Kind: "resistor", Footprint: "0402"},
		{Name: "R2", Kind: "resistor", Footprint: "0402"},
	}}
}

func alwaysCompiles() *fakeCompiler {
	return &fakeCompiler{fn: func(context.Context, int, circuit.Request) (*circuit.Circuit, error) {
		return twoParts(), nil
	}}
}

func reviewing(diags ...diagnostic.Diagnostic) *fakeReviewer {
	return &fakeReviewer{fn: func(context.Context, *circuit.Circuit) (*circuit.Review, error) {
		return &circuit.Review{Diagnostics: diags}, nil
	}}
}

func overlap() diagnostic.Diagnostic {
	return diagnostic.New(diagnostic.CategoryComponentOverlap, "R1 overlaps R2",
		diagnostic.WithSource(diagnostic.SourceReviewer),
		diagnostic.WithComponents("R1", "R2"),
		diagnostic.WithSubject("R1/R2"))
}

const twoResistors = `<board width="20mm" height="20mm">
  <resistor name="R1" footprint="0402" pcbX={0} pcbY={0} />
  <resistor name="R2" footprint="0402" pcbX={0} pcbY={0} />
</board>
`

const cleanDesign = `<board width="40mm" height="40mm">
  <chip name="U1" footprint="soic8" pinLabels={{ pin1: "VCC", pin2: "GND" }}
        connections={{ VCC: "net.V3_3", GND: "net.GND" }} pcbX={0} pcbY={0} />
  <capacitor name="C1" footprint="0402" connections={{ pin1: "net.V3_3", pin2: "net.GND" }} pcbX={10} pcbY={0} />
</board>
`

func eventsOf(res *Result, typ EventType) []Event {
	var out []Event
	for _, ev := range res.Events.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func states(res *Result) []State {
	var out []State
	for _, ev := range eventsOf(res, EventStateChanged) {
		out = append(out, ev.Data.(StateChange).To)
	}
	return out
}

// requireWellFormedStream checks the stream invariants every run must hold.
func requireWellFormedStream(t *testing.T, res *Result) {
	t.Helper()
	evs := res.Events.Events()
	require.NotEmpty(t, evs)
	for i, ev := range evs {
		assert.Equal(t, i+1, ev.Seq)
	}
	require.Len(t, eventsOf(res, EventTerminal), 1)
	require.Len(t, eventsOf(res, EventSummary), 1)
	last := evs[len(evs)-1]
	assert.Equal(t, EventTerminal, last.Type)
	assert.Equal(t, EventSummary, evs[len(evs)-2].Type)
	assert.Equal(t, res.Outcome, last.Data.(Terminal).Outcome)
	assert.True(t, res.Events.Closed())
	select {
	case <-res.Events.Done():
	default:
		t.Fatal("Done not closed after terminal event")
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestController_CleanDesignConvergesAtAttemptZero(t *testing.T) {
	ctrl := New(Config{}, compile.Local{}, &review.RuleReviewer{})
	res := ctrl.Run(context.Background(), Request{SessionID: "s1", Source: cleanDesign}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Equal(t, 0, res.Summary.DiagnosticsCount)
	assert.Equal(t, 100, res.Summary.ReadinessScore)
	assert.Equal(t, 1, res.Summary.AttemptsUsed)
	assert.Equal(t, DefaultAttemptBudget, res.Summary.AttemptBudget)
	assert.Empty(t, res.Summary.UnresolvedBlockers)
	assert.True(t, res.Summary.Exportable())
	assert.Empty(t, res.Plans)
	require.NotNil(t, res.Circuit)
	assert.Len(t, res.Circuit.Components, 2)

	requireWellFormedStream(t, res)
	assert.Equal(t, []State{StateCompiling, StatePreflighting, StateValidating, StateClassifying, StateClean, StateConverged}, states(res))
	assert.Equal(t, EventAttemptStarted, res.Events.Events()[0].Type)
	for _, ev := range res.Events.Events() {
		assert.Equal(t, "s1", ev.SessionID)
	}
}

func TestController_TypeScriptPreambleConverges(t *testing.T) {
	src := `const nets: Record<string, string> = { vcc: "net.V3_3" }
const note = "decouple U1 if <100nF"
function half(xs: Array<number>): number {
  let n = 0
  for (let i = 0; i<xs.length; i++) n += xs[i] / 2
  return n
}

export default () => (
` + cleanDesign + ")\n"

	ctrl := New(Config{}, compile.Local{}, &review.RuleReviewer{})
	res := ctrl.Run(context.Background(), Request{SessionID: "ts", Source: src}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Equal(t, 1, res.Summary.AttemptsUsed)
	require.NotNil(t, res.Circuit)
	assert.Len(t, res.Circuit.Components, 2)
	assert.Equal(t, src, res.Source)
}

func TestController_IdenticalBrokenTracesReportedSeparately(t *testing.T) {
	src := strings.Replace(cleanDesign, "</board>", `  <trace from=".U1 > .VCC" />
  <trace from=".U1 > .VCC" />
</board>`, 1)
	ctrl := New(Config{AttemptBudget: 1}, alwaysCompiles(), reviewing())
	res := ctrl.Run(context.Background(), Request{Source: src}, nil)

	pre := eventsOf(res, EventPreflightDiagnostics)
	require.NotEmpty(t, pre)
	var missing int
	for _, d := range pre[0].Data.(Diagnostics).Diagnostics {
		if d.Category == diagnostic.CategoryTraceMissingEndpoint {
			missing++
		}
	}
	assert.Equal(t, 2, missing)
	assert.True(t, pre[0].Data.(Diagnostics).CompileSkipped)
}

func TestController_ExhaustsWhenBlockerPersists(t *testing.T) {
	comp := alwaysCompiles()
	ctrl := New(Config{AttemptBudget: 3}, comp, reviewing(overlap()))
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, 3, res.Summary.AttemptsUsed)
	assert.Contains(t, res.Summary.UnresolvedFamilies, diagnostic.FamilyPlacementOverlap)
	require.Len(t, res.Summary.UnresolvedBlockers, 1)
	assert.Contains(t, res.Summary.UnresolvedBlockers[0], "R1 overlaps R2")
	assert.Equal(t, 80, res.Summary.ReadinessScore)
	assert.False(t, res.Summary.Exportable())

	// Validation plus re-validation per attempt.
	assert.Equal(t, 6, comp.Calls())
	assert.Len(t, res.Repairs, 3)
	assert.Len(t, res.Diffs, 3)
	for _, r := range res.Repairs {
		assert.True(t, r.Revalidated)
		assert.False(t, r.Reduced())
	}
	requireWellFormedStream(t, res)
	assert.Len(t, eventsOf(res, EventAttemptStarted), 3)
	retries := 0
	for _, s := range states(res) {
		if s == StateRetrying {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestController_NoStrategyReselectedWithoutProgress(t *testing.T) {
	ctrl := New(Config{AttemptBudget: 4}, alwaysCompiles(), reviewing(overlap()))
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	require.Len(t, res.Plans, 4)
	assert.Equal(t, strategy.LayoutSpread, res.Plans[0].Strategy)
	assert.False(t, res.Plans[0].Escalated)
	for i := 1; i < len(res.Plans); i++ {
		assert.NotEqual(t, res.Plans[i-1].Strategy, res.Plans[i].Strategy, "attempt %d", i)
	}
	assert.True(t, res.Plans[1].Escalated)
	assert.Equal(t, strategy.CongestionRelief, res.Plans[1].Strategy)
}

func TestController_NeverExceedsBudget(t *testing.T) {
	for _, budget := range []int{1, 2, 3, 5} {
		comp := alwaysCompiles()
		ctrl := New(Config{AttemptBudget: budget}, comp, reviewing(overlap()))
		res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

		assert.Equal(t, OutcomeExhausted, res.Outcome, "budget %d", budget)
		assert.Equal(t, budget, res.Summary.AttemptsUsed, "budget %d", budget)
		assert.LessOrEqual(t, res.Summary.AttemptsUsed, res.Summary.AttemptBudget)
		assert.Len(t, eventsOf(res, EventAttemptStarted), budget)
	}
}

func TestController_RetryingBetweenAttempts(t *testing.T) {
	ctrl := New(Config{AttemptBudget: 2}, alwaysCompiles(), reviewing(overlap()))
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	got := states(res)
	assert.Equal(t, []State{
		StateCompiling, StatePreflighting, StateValidating, StateClassifying, StateRepairing, StateRevalidating, StateRetrying,
		StateCompiling, StatePreflighting, StateValidating, StateClassifying, StateRepairing, StateRevalidating, StateExhausted,
	}, got)
}

func TestController_EventsPrecedeTerminal(t *testing.T) {
	ctrl := New(Config{AttemptBudget: 1}, alwaysCompiles(), reviewing(overlap()))
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	var types []EventType
	for _, ev := range res.Events.Events() {
		if ev.Type != EventStateChanged {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []EventType{
		EventAttemptStarted,
		EventPreflightDiagnostics,
		EventCompileDiagnostics,
		EventRepairPlan,
		EventPreflightDiagnostics,
		EventCompileDiagnostics,
		EventRepairResult,
		EventIterationDiff,
		EventSummary,
		EventTerminal,
	}, types)
}

func TestController_RepairConvergesAfterFix(t *testing.T) {
	// Only the first review reports the overlap.
	var mu sync.Mutex
	reviews := 0
	rev := &fakeReviewer{fn: func(context.Context, *circuit.Circuit) (*circuit.Review, error) {
		mu.Lock()
		defer mu.Unlock()
		reviews++
		if reviews == 1 {
			return &circuit.Review{Diagnostics: []diagnostic.Diagnostic{overlap()}}, nil
		}
		return &circuit.Review{}, nil
	}}

	ctrl := New(Config{}, alwaysCompiles(), rev)
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Equal(t, 1, res.Summary.AttemptsUsed)
	require.Len(t, res.Repairs, 1)
	assert.Equal(t, 1, res.Repairs[0].BlockingBefore)
	assert.Equal(t, 0, res.Repairs[0].BlockingAfter)
	assert.NotEqual(t, twoResistors, res.Source)
	assert.Equal(t, []State{StateCompiling, StatePreflighting, StateValidating, StateClassifying, StateRepairing, StateRevalidating, StateConverged}, states(res))
}

func TestController_RebuildsBrokenTrace(t *testing.T) {
	src := `<board width="40mm" height="40mm">
  <resistor name="R1" footprint="0402" connections={{ pin1: "net.SIG", pin2: "net.GND" }} pcbX={0} pcbY={0} />
  <resistor name="R2" footprint="0402" connections={{ pin1: "net.SIG", pin2: "net.GND" }} pcbX={10} pcbY={0} />
  <trace from=".R1 > .pin1" />
</board>
`
	comp := &fakeCompiler{fn: func(ctx context.Context, _ int, req circuit.Request) (*circuit.Circuit, error) {
		return compile.Local{}.Compile(ctx, req)
	}}
	ctrl := New(Config{}, comp, &review.RuleReviewer{})
	res := ctrl.Run(context.Background(), Request{Source: src}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Equal(t, 2, res.Summary.AttemptsUsed)
	require.Len(t, res.Plans, 2)
	assert.Equal(t, strategy.Normal, res.Plans[0].Strategy)
	assert.Equal(t, strategy.TraceRebuild, res.Plans[1].Strategy)
	assert.Contains(t, res.Source, `<trace from=".R1 > .pin1" to=".R2 > .pin1" />`)
	assert.NotContains(t, res.Source, `<trace from=".R1 > .pin1" />`)

	// The broken trace keeps the compiler from running until it is rebuilt.
	pre := eventsOf(res, EventPreflightDiagnostics)
	require.NotEmpty(t, pre)
	assert.True(t, pre[0].Data.(Diagnostics).CompileSkipped)
	assert.Equal(t, 1, comp.Calls())
}

// ---------------------------------------------------------------------------
// Failure paths
// ---------------------------------------------------------------------------

func TestController_CompilerFailureConsumesAttempt(t *testing.T) {
	comp := &fakeCompiler{fn: func(context.Context, int, circuit.Request) (*circuit.Circuit, error) {
		return nil, errors.New("toolchain crashed")
	}}
	ctrl := New(Config{AttemptBudget: 2}, comp, reviewing())
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, 2, res.Summary.AttemptsUsed)
	assert.Equal(t, 2, comp.Calls())
	assert.Empty(t, res.Plans)
	assert.Equal(t, []diagnostic.Family{diagnostic.FamilyCompileFailure}, res.Summary.UnresolvedFamilies)

	compiled := eventsOf(res, EventCompileDiagnostics)
	require.Len(t, compiled, 2)
	diags := compiled[0].Data.(Diagnostics).Diagnostics
	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CategoryCompileFailure, diags[0].Category)
	assert.Equal(t, diagnostic.SourceCompiler, diags[0].Source)
	assert.Contains(t, diags[0].Message, "toolchain crashed")
}

func TestController_CompilerRecoversOnNextAttempt(t *testing.T) {
	comp := &fakeCompiler{fn: func(_ context.Context, call int, _ circuit.Request) (*circuit.Circuit, error) {
		if call == 1 {
			return nil, errors.New("flaky")
		}
		return twoParts(), nil
	}}
	ctrl := New(Config{}, comp, reviewing())
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Equal(t, 2, res.Summary.AttemptsUsed)
	assert.Equal(t, 100, res.Summary.ReadinessScore)
}

func TestController_AttemptTimeout(t *testing.T) {
	comp := &fakeCompiler{fn: func(ctx context.Context, _ int, _ circuit.Request) (*circuit.Circuit, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ctrl := New(Config{AttemptBudget: 1, AttemptTimeout: 20 * time.Millisecond}, comp, reviewing())
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeExhausted, res.Outcome)
	compiled := eventsOf(res, EventCompileDiagnostics)
	require.Len(t, compiled, 1)
	diags := compiled[0].Data.(Diagnostics).Diagnostics
	require.Len(t, diags, 1)
	assert.Equal(t, diagnostic.CategoryCompileTimeout, diags[0].Category)
	assert.Equal(t, []diagnostic.Family{diagnostic.FamilyCompileFailure}, res.Summary.UnresolvedFamilies)
}

func TestController_CompilerIgnoringContextStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	comp := &fakeCompiler{fn: func(context.Context, int, circuit.Request) (*circuit.Circuit, error) {
		<-release
		return twoParts(), nil
	}}
	ctrl := New(Config{AttemptBudget: 1, AttemptTimeout: 20 * time.Millisecond}, comp, reviewing())

	done := make(chan *Result, 1)
	go func() { done <- ctrl.Run(context.Background(), Request{Source: twoResistors}, nil) }()
	select {
	case res := <-done:
		assert.Equal(t, OutcomeExhausted, res.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not honour the attempt timeout")
	}
}

func TestController_TypedCompileErrorIsRepaired(t *testing.T) {
	comp := &fakeCompiler{fn: func(context.Context, int, circuit.Request) (*circuit.Circuit, error) {
		return nil, &circuit.CompileError{Message: "duplicate component R1", Line: 3}
	}}
	ctrl := New(Config{AttemptBudget: 1}, comp, reviewing())
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeExhausted, res.Outcome)
	require.Len(t, res.Plans, 1)
	compiled := eventsOf(res, EventCompileDiagnostics)
	require.NotEmpty(t, compiled)
	d := compiled[0].Data.(Diagnostics).Diagnostics[0]
	assert.Equal(t, diagnostic.CategoryCompileFailure, d.Category)
	assert.Equal(t, 3, d.Line)
}

func TestController_UnavailableCollaboratorEndsRun(t *testing.T) {
	comp := &fakeCompiler{fn: func(context.Context, int, circuit.Request) (*circuit.Circuit, error) {
		return nil, circuit.Unavailable("compiler", errors.New("connection refused"))
	}}
	ctrl := New(Config{}, comp, reviewing())
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeError, res.Outcome)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, circuit.ErrUnavailable)
	assert.Equal(t, 1, res.Summary.AttemptsUsed)
	assert.Equal(t, 1, comp.Calls())
	requireWellFormedStream(t, res)
	term := eventsOf(res, EventTerminal)[0].Data.(Terminal)
	assert.Equal(t, OutcomeError, term.Outcome)
	assert.Contains(t, term.Error, "connection refused")
	assert.Equal(t, StateErrored, states(res)[len(states(res))-1])
}

func TestController_ReviewerUnavailable(t *testing.T) {
	rev := &fakeReviewer{fn: func(context.Context, *circuit.Circuit) (*circuit.Review, error) {
		return nil, circuit.Unavailable("reviewer", errors.New("503"))
	}}
	res := New(Config{}, alwaysCompiles(), rev).Run(context.Background(), Request{Source: twoResistors}, nil)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, circuit.ErrUnavailable)
}

func TestController_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	comp := alwaysCompiles()
	res := New(Config{}, comp, reviewing()).Run(ctx, Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, res.Summary.AttemptsUsed)
	assert.Equal(t, 0, comp.Calls())
	requireWellFormedStream(t, res)
	assert.Empty(t, eventsOf(res, EventAttemptStarted))
}

func TestController_CancelledMidRunStopsFurtherAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rev := &fakeReviewer{fn: func(context.Context, *circuit.Circuit) (*circuit.Review, error) {
		cancel()
		return &circuit.Review{Diagnostics: []diagnostic.Diagnostic{overlap()}}, nil
	}}
	comp := alwaysCompiles()
	res := New(Config{AttemptBudget: 3}, comp, rev).Run(ctx, Request{Source: twoResistors}, nil)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, 1, res.Summary.AttemptsUsed)
	assert.Len(t, eventsOf(res, EventAttemptStarted), 1)
	requireWellFormedStream(t, res)
	assert.NotEqual(t, OutcomeConverged, eventsOf(res, EventTerminal)[0].Data.(Terminal).Outcome)
}

func TestController_RecoversCollaboratorPanic(t *testing.T) {
	comp := &fakeCompiler{fn: func(context.Context, int, circuit.Request) (*circuit.Circuit, error) {
		panic("compiler bug")
	}}
	var res *Result
	require.NotPanics(t, func() {
		res = New(Config{AttemptBudget: 1}, comp, reviewing()).Run(context.Background(), Request{Source: twoResistors}, nil)
	})
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	requireWellFormedStream(t, res)
	diags := eventsOf(res, EventCompileDiagnostics)[0].Data.(Diagnostics).Diagnostics
	assert.Contains(t, diags[0].Message, "compiler bug")
}

func TestController_NilCircuitIsCompilerFailure(t *testing.T) {
	comp := &fakeCompiler{fn: func(context.Context, int, circuit.Request) (*circuit.Circuit, error) {
		return nil, nil
	}}
	res := New(Config{AttemptBudget: 1}, comp, reviewing()).Run(context.Background(), Request{Source: twoResistors}, nil)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, []diagnostic.Family{diagnostic.FamilyCompileFailure}, res.Summary.UnresolvedFamilies)
}

func TestController_ObserverSeesEventsInOrder(t *testing.T) {
	em := NewEmitter(WithSessionID("obs"))
	var mu sync.Mutex
	var seen []int
	em.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Seq)
		mu.Unlock()
	})

	res := New(Config{AttemptBudget: 2}, alwaysCompiles(), reviewing(overlap())).
		Run(context.Background(), Request{SessionID: "obs", Source: twoResistors}, em)

	assert.Same(t, em, res.Events)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, em.Len())
	for i, s := range seen {
		assert.Equal(t, i+1, s)
	}
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

func TestController_PreviewWithBaseline(t *testing.T) {
	ctrl := New(Config{}, alwaysCompiles(), reviewing(), WithPreviewer(&fakePreviewer{}))
	res := ctrl.Run(context.Background(), Request{Source: twoResistors, Baseline: twoParts()}, nil)

	assert.Equal(t, OutcomeConverged, res.Outcome)
	require.NotNil(t, res.Preview)
	assert.Equal(t, "R1", res.Preview.Content)
}

func TestController_PreviewFailureIsIgnored(t *testing.T) {
	ctrl := New(Config{}, alwaysCompiles(), reviewing(), WithPreviewer(&fakePreviewer{err: errors.New("no gerber")}))
	res := ctrl.Run(context.Background(), Request{Source: twoResistors, Baseline: twoParts()}, nil)

	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Nil(t, res.Preview)
}

func TestController_NoPreviewWithoutBaseline(t *testing.T) {
	ctrl := New(Config{}, alwaysCompiles(), reviewing(), WithPreviewer(&fakePreviewer{}))
	res := ctrl.Run(context.Background(), Request{Source: twoResistors}, nil)
	assert.Nil(t, res.Preview)
}

func TestFormatEvent(t *testing.T) {
	res := New(Config{AttemptBudget: 1}, alwaysCompiles(), reviewing(overlap())).
		Run(context.Background(), Request{Source: twoResistors}, nil)

	var lines []string
	for _, ev := range res.Events.Events() {
		lines = append(lines, FormatEvent(ev))
	}
	out := strings.Join(lines, "\n")
	assert.Contains(t, out, "[attempt 1/1] started")
	assert.Contains(t, out, "plan: structural_layout_spread")
	assert.Contains(t, out, "summary: readiness 80")
	assert.Contains(t, out, "✗ exhausted")
}
