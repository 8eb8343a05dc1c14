package mcptools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/compile"
	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/export"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/review"
	"github.com/dusk-indust/circuitloop/internal/session"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

const cleanDesign = `<board width="40mm" height="40mm">
  <chip name="U1" footprint="soic8" pinLabels={{ pin1: "VCC", pin2: "GND" }}
        connections={{ VCC: "net.V3_3", GND: "net.GND" }} pcbX={0} pcbY={0} />
  <capacitor name="C1" footprint="0402" connections={{ pin1: "net.V3_3", pin2: "net.GND" }} pcbX={10} pcbY={0} />
</board>
`

const danglingTrace = `<chip name="U1" connections={{ OUT: "net.SIG" }} />
<chip name="U2" connections={{ IN: "net.SIG" }} />
<trace from=".U1 > .OUT" />
`

func newService(t *testing.T, store session.Store) *Service {
	t.Helper()
	return NewService(Deps{
		Config:    orchestrator.Config{},
		Compiler:  compile.Local{},
		Reviewer:  &review.RuleReviewer{},
		Previewer: export.BOM{},
		Sessions:  store,
	})
}

func TestService_PreflightSource(t *testing.T) {
	svc := newService(t, nil)

	_, out, err := svc.PreflightSource(context.Background(), nil, PreflightSourceInput{Source: danglingTrace})
	require.NoError(t, err)
	require.NotEmpty(t, out.Diagnostics)
	assert.Equal(t, diagnostic.CategoryTraceMissingEndpoint, out.Diagnostics[0].Category)
	assert.Equal(t, diagnostic.HandlingMustRepair, out.Diagnostics[0].Handling)
	assert.Positive(t, out.BlockingCount)
	assert.True(t, out.CompileSkipped)

	_, out, err = svc.PreflightSource(context.Background(), nil, PreflightSourceInput{Source: cleanDesign})
	require.NoError(t, err)
	assert.Empty(t, out.Diagnostics)
	assert.NotNil(t, out.Diagnostics)
	assert.False(t, out.CompileSkipped)
}

func TestService_RebuildTraces(t *testing.T) {
	svc := newService(t, nil)

	_, out, err := svc.RebuildTraces(context.Background(), nil, RebuildTracesInput{Source: danglingTrace})
	require.NoError(t, err)
	require.Len(t, out.Traces, 1)
	assert.Equal(t, "SIG", out.Traces[0].Net)
	assert.Equal(t, []string{`<trace from=".U1 > .OUT" to=".U2 > .IN" />`}, out.Statements)
	assert.Empty(t, out.Reason)

	_, out, err = svc.RebuildTraces(context.Background(), nil, RebuildTracesInput{Source: `<chip name="U1" />`})
	require.NoError(t, err)
	assert.Empty(t, out.Traces)
	assert.NotEmpty(t, out.Reason)
}

func TestService_ClassifyDiagnostics(t *testing.T) {
	svc := newService(t, nil)

	_, out, err := svc.ClassifyDiagnostics(context.Background(), nil, ClassifyDiagnosticsInput{
		Diagnostics: []DiagnosticInput{
			{Category: "component_overlap", Message: "R1 overlaps R2", Subject: "R1/R2", Components: []string{"R1", "R2"}},
			{Category: "silkscreen_overlap", Message: "label overlaps pad", Subject: "R1"},
			{Category: "missing_footprint", Message: "C3 has no footprint", Subject: "C3"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []diagnostic.Family{diagnostic.FamilyPlacementOverlap}, out.MustRepairFamilies)
	assert.Equal(t, []diagnostic.Family{diagnostic.FamilySilkscreen}, out.ShouldDemoteFamilies)
	assert.Equal(t, []diagnostic.Family{diagnostic.FamilyMissingFootprint}, out.AutoFixableFamilies)
	assert.Equal(t, 1, out.BlockingCount)
	assert.Len(t, out.History, 3)
	require.NotNil(t, out.Plan)
	assert.Equal(t, strategy.LayoutSpread, out.Plan.Strategy)
}

func TestService_ClassifyDiagnostics_HistoryDemotes(t *testing.T) {
	svc := newService(t, nil)
	in := ClassifyDiagnosticsInput{
		Diagnostics: []DiagnosticInput{
			{Category: "pin_floating", Message: "U1.NC floats", Subject: "U1.NC"},
		},
	}

	_, first, err := svc.ClassifyDiagnostics(context.Background(), nil, in)
	require.NoError(t, err)
	assert.Equal(t, 1, first.BlockingCount)

	// Feed the streaks back until the warning demotes.
	in.History = first.History
	for i := 0; i < 5 && first.BlockingCount > 0; i++ {
		_, first, err = svc.ClassifyDiagnostics(context.Background(), nil, in)
		require.NoError(t, err)
		in.History = first.History
	}
	assert.Equal(t, 0, first.BlockingCount)
	assert.Equal(t, []diagnostic.Family{diagnostic.FamilyFloatingPin}, first.ShouldDemoteFamilies)
	assert.Nil(t, first.Plan)
}

func TestService_ClassifyDiagnostics_RequiresMessage(t *testing.T) {
	svc := newService(t, nil)
	_, _, err := svc.ClassifyDiagnostics(context.Background(), nil, ClassifyDiagnosticsInput{
		Diagnostics: []DiagnosticInput{{Category: "net_short"}},
	})
	assert.ErrorContains(t, err, "message is required")
}

func TestService_ConvergeDesign(t *testing.T) {
	store := session.NewMemStore(0)
	svc := newService(t, store)
	ctx := context.Background()

	_, out, err := svc.ConvergeDesign(ctx, nil, ConvergeDesignInput{SessionID: "s1", Source: cleanDesign})
	require.NoError(t, err)
	assert.Equal(t, string(orchestrator.OutcomeConverged), out.Outcome)
	assert.Equal(t, 100, out.ReadinessScore)
	assert.True(t, out.Exportable)
	assert.Empty(t, out.Strategies)
	assert.NotEmpty(t, out.Progress)
	assert.Equal(t, cleanDesign, out.Source)

	sc, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, sc.LastConverged)

	// The session's last design is reused when no source is given.
	_, out, err = svc.ConvergeDesign(ctx, nil, ConvergeDesignInput{SessionID: "s1", AttemptBudget: 1})
	require.NoError(t, err)
	assert.Equal(t, string(orchestrator.OutcomeConverged), out.Outcome)
	assert.Equal(t, 1, out.AttemptBudget)
}

func TestService_ConvergeDesign_Errors(t *testing.T) {
	svc := newService(t, nil)
	_, _, err := svc.ConvergeDesign(context.Background(), nil, ConvergeDesignInput{})
	assert.ErrorContains(t, err, "source is required")

	bare := NewService(Deps{})
	_, _, err = bare.ConvergeDesign(context.Background(), nil, ConvergeDesignInput{Source: cleanDesign})
	assert.ErrorContains(t, err, "no compiler")
}
