//go:build e2e

package e2e

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/compile"
	"github.com/dusk-indust/circuitloop/internal/export"
)

var update = flag.Bool("update", false, "update golden files")

// goldenDir returns the path to the testdata/golden directory.
func goldenDir() string {
	return filepath.Join("..", "..", "testdata", "golden")
}

// goldenFiles maps design fixtures to the golden BOM they compile to.
var goldenFiles = []struct {
	design string
	golden string
}{
	{"clean.tsx", "clean_bom.csv"},
}

func bomFor(t *testing.T, design string) string {
	t.Helper()
	c, err := compile.Local{}.Compile(context.Background(), circuit.Request{Source: readDesign(t, design)})
	require.NoError(t, err)
	bom, err := export.BOMCSV(c)
	require.NoError(t, err)
	return bom
}

// TestGolden compares compiled BOMs against golden files. If golden files
// do not exist, the test is skipped with a message to run with -update.
func TestGolden(t *testing.T) {
	for _, g := range goldenFiles {
		t.Run(g.golden, func(t *testing.T) {
			golden, err := os.ReadFile(filepath.Join(goldenDir(), g.golden))
			if os.IsNotExist(err) {
				t.Skipf("golden file %s not found; run with -update to generate", g.golden)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(golden), bomFor(t, g.design),
				"BOM for %s does not match golden file", g.design)
		})
	}
}

// TestUpdateGolden regenerates golden files from the current compiler.
// Run with: go test -tags e2e -run TestUpdateGolden ./internal/e2e/ -update
func TestUpdateGolden(t *testing.T) {
	if !*update {
		t.Skip("skipping golden file update; run with -update flag")
	}
	require.NoError(t, os.MkdirAll(goldenDir(), 0o755))
	for _, g := range goldenFiles {
		require.NoError(t, os.WriteFile(filepath.Join(goldenDir(), g.golden), []byte(bomFor(t, g.design)), 0o644))
		t.Logf("updated %s", g.golden)
	}
}
