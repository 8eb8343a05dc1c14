package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/repair"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// Report is the top-level JSON export of one run.
type Report struct {
	SessionID  string                    `json:"sessionId,omitempty"`
	ExportedAt string                    `json:"exportedAt"`
	Exportable bool                      `json:"exportable"`
	Summary    orchestrator.FinalSummary `json:"summary"`
	Attempts   []AttemptReport           `json:"attempts"`
	Source     string                    `json:"source"`
	Circuit    *circuit.Circuit          `json:"circuit,omitempty"`
	Preview    *circuit.Preview          `json:"preview,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// AttemptReport describes one repair attempt.
type AttemptReport struct {
	Attempt        int                         `json:"attempt"`
	Strategy       strategy.Strategy           `json:"strategy"`
	Escalated      bool                        `json:"escalated,omitempty"`
	Reason         string                      `json:"reason,omitempty"`
	BlockingBefore int                         `json:"blockingBefore"`
	BlockingAfter  int                         `json:"blockingAfter"`
	Actions        []repair.Action             `json:"actions,omitempty"`
	Diff           *orchestrator.IterationDiff `json:"diff,omitempty"`
}

// BuildReport assembles a Report from a finished run.
func BuildReport(res *orchestrator.Result) *Report {
	r := &Report{
		SessionID:  res.SessionID,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Exportable: Gate(res.Summary) == nil,
		Summary:    res.Summary,
		Attempts:   []AttemptReport{},
		Source:     res.Source,
		Circuit:    res.Circuit,
		Preview:    res.Preview,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}

	plans := make(map[int]strategy.RepairPlan, len(res.Plans))
	for _, p := range res.Plans {
		plans[p.Attempt] = p
	}
	diffs := make(map[int]orchestrator.IterationDiff, len(res.Diffs))
	for _, d := range res.Diffs {
		diffs[d.Attempt] = d
	}
	for _, rr := range res.Repairs {
		a := AttemptReport{
			Attempt:        rr.Attempt,
			BlockingBefore: rr.BlockingBefore,
			BlockingAfter:  rr.BlockingAfter,
			Actions:        rr.Actions,
		}
		if p, ok := plans[rr.Attempt]; ok {
			a.Strategy = p.Strategy
			a.Escalated = p.Escalated
			a.Reason = p.Reason
		}
		if d, ok := diffs[rr.Attempt]; ok {
			a.Diff = &d
		}
		r.Attempts = append(r.Attempts, a)
	}
	return r
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("export: write report: %w", err)
	}
	return nil
}
