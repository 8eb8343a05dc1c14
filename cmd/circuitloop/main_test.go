//go:build cgo

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/compile"
	"github.com/dusk-indust/circuitloop/internal/export"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/remote"
	"github.com/dusk-indust/circuitloop/internal/review"
)

const cleanDesign = `export default () => (
  <board width="40mm" height="40mm">
    <chip name="U1" footprint="soic8" pinLabels={{ pin1: "VCC", pin2: "GND" }}
          connections={{ VCC: "net.V3_3", GND: "net.GND" }} pcbX={0} pcbY={0} />
    <capacitor name="C1" footprint="0402" connections={{ pin1: "net.V3_3", pin2: "net.GND" }} pcbX={10} pcbY={0} />
  </board>
)
`

const brokenTrace = `export default () => (
  <board width="40mm" height="40mm">
    <resistor name="R1" footprint="0402" connections={{ pin1: "net.SIG", pin2: "net.GND" }} pcbX={0} pcbY={0} />
    <resistor name="R2" footprint="0402" connections={{ pin1: "net.SIG", pin2: "net.GND" }} pcbX={10} pcbY={0} />
    <trace from=".R1 > .pin1" />
  </board>
)
`

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// execute runs the CLI in a fresh working directory so no project config
// is picked up.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeDesign(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestVersion(t *testing.T) {
	t.Chdir(t.TempDir())
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestConverge_CleanDesign(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeDesign(t, "clean.tsx", cleanDesign)

	out, progress, err := execute(t, "converge", "--session", "s1", path)
	require.NoError(t, err)
	assert.Contains(t, out, "session s1: converged after 1 attempt(s), readiness 100")
	assert.Contains(t, progress, "[attempt 1/")
	assert.Contains(t, progress, "✓ converged")
}

func TestConverge_WritesRepairedSource(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeDesign(t, "broken.tsx", brokenTrace)

	_, _, err := execute(t, "converge", "--quiet", "--write", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<trace from=".R1 > .pin1" to=".R2 > .pin1" />`)
}

func TestConverge_JSONReport(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeDesign(t, "broken.tsx", brokenTrace)

	out, _, err := execute(t, "converge", "--quiet", "--json", "--session", "j1", path)
	require.NoError(t, err)

	var rep export.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "j1", rep.SessionID)
	assert.True(t, rep.Exportable)
	require.Len(t, rep.Attempts, 2)
	assert.Equal(t, "structural_trace_rebuild", string(rep.Attempts[1].Strategy))
}

func TestConverge_GateFailsWhenBudgetRunsOut(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeDesign(t, "broken.tsx", brokenTrace)

	out, _, err := execute(t, "converge", "--quiet", "--budget", "1", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrNotReady)
	assert.Contains(t, out, "blocking:")

	// The source on disk is untouched without --write.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, brokenTrace, string(data))
}

func TestConverge_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, _, err := execute(t, "converge", "nope.tsx")
	assert.ErrorContains(t, err, "read design")
}

func TestConverge_OnServer(t *testing.T) {
	t.Chdir(t.TempDir())
	ctrl := orchestrator.New(orchestrator.Config{}, compile.Local{}, &review.RuleReviewer{})
	srv := remote.NewServer(ctrl)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		ts.Close()
	})

	path := writeDesign(t, "broken.tsx", brokenTrace)
	out, progress, err := execute(t, "converge", "--server", ts.URL, "--session", "r1", "--write", path)
	require.NoError(t, err)
	assert.Contains(t, out, "session r1: converged")
	assert.Contains(t, progress, "plan: structural_trace_rebuild")
	assert.Contains(t, progress, "✓ converged")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `to=".R2 > .pin1"`)
}

func TestPreflight(t *testing.T) {
	t.Chdir(t.TempDir())

	out, _, err := execute(t, "preflight", writeDesign(t, "clean.tsx", cleanDesign))
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	out, _, err = execute(t, "preflight", writeDesign(t, "broken.tsx", brokenTrace))
	assert.ErrorContains(t, err, "blocking diagnostic")
	assert.Contains(t, out, "trace_missing_endpoint")
}

func TestRebuild(t *testing.T) {
	t.Chdir(t.TempDir())

	out, _, err := execute(t, "rebuild", writeDesign(t, "broken.tsx", brokenTrace))
	require.NoError(t, err)
	assert.Contains(t, out, `<trace from=".R1 > .pin1" to=".R2 > .pin1" />`)

	_, _, err = execute(t, "rebuild", writeDesign(t, "bare.tsx", "<board><resistor name=\"R1\" /></board>\n"))
	assert.ErrorContains(t, err, "net intent")
}

func TestDiagram(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeDesign(t, "clean.tsx", cleanDesign)

	out, _, err := execute(t, "diagram", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph LR"), out)
	assert.Contains(t, out, "U1")
	assert.Contains(t, out, "V3_3")

	_, _, err = execute(t, "diagram", "--store", "neo4j", path)
	assert.ErrorContains(t, err, "unknown store")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "circuitloop.yml"),
		[]byte("loop:\n  attempt_budget: 0\n"), 0o644))

	_, _, err := execute(t, "version")
	assert.ErrorContains(t, err, "attempt_budget")
}
