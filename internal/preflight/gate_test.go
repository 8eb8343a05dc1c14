//go:build cgo

package preflight

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/source"
)

func TestAnalyzer_TreeSitterGateAcceptsTypeScript(t *testing.T) {
	a := &Analyzer{Syntax: source.NewTreeSitterChecker()}
	src := strings.Replace(tsDesign, "i<n", "i < n", 1)
	assert.Empty(t, a.Run(context.Background(), src))
}

func TestAnalyzer_TreeSitterGateReportsBrokenSource(t *testing.T) {
	a := &Analyzer{Syntax: source.NewTreeSitterChecker()}
	src := strings.Replace(tsDesign, "  </board>\n", "", 1)
	diags := a.Run(context.Background(), src)
	require.NotEmpty(t, diags)
	assert.Equal(t, diagnostic.CategorySourceSyntax, diags[0].Category)
	assert.Contains(t, diags[0].Message, "does not parse")
}
