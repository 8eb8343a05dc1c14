// Package export turns converged runs into artifacts: the export gate,
// bill-of-materials previews, JSON reports and connectivity diagrams.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dusk-indust/circuitloop/internal/orchestrator"
)

// ErrNotReady is returned by Gate while a run has not converged cleanly.
var ErrNotReady = errors.New("export: design not ready for manufacturing")

// Gate allows manufacturing export only for a converged run with no
// blocking diagnostics left.
func Gate(s orchestrator.FinalSummary) error {
	if s.Exportable() {
		return nil
	}
	if s.Outcome != orchestrator.OutcomeConverged {
		return fmt.Errorf("%w: run ended %s (readiness %d)", ErrNotReady, s.Outcome, s.ReadinessScore)
	}
	return fmt.Errorf("%w: %d blocking: %s", ErrNotReady, s.BlockingCount, strings.Join(s.UnresolvedBlockers, "; "))
}
