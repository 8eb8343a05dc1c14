package orchestrator

import (
	"sort"
	"strings"

	"github.com/aryann/difflib"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/classify"
	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/repair"
	"github.com/dusk-indust/circuitloop/internal/source"
)

// Readiness weights. A blocker costs five warnings.
const (
	BlockingPenalty = 20
	WarningPenalty  = 4
)

// ReadinessScore maps the remaining diagnostic counts to [0,100]. It is
// non-increasing in both arguments and 100 only when both are zero.
func ReadinessScore(blocking, warnings int) int {
	score := 100 - BlockingPenalty*blocking - WarningPenalty*warnings
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// FinalSummary is the terminal state of a run. It is produced exactly once.
type FinalSummary struct {
	Outcome            Outcome             `json:"outcome"`
	ReadinessScore     int                 `json:"readinessScore"`
	DiagnosticsCount   int                 `json:"diagnosticsCount"`
	BlockingCount      int                 `json:"blockingCount"`
	WarningCount       int                 `json:"warningCount"`
	UnresolvedBlockers []string            `json:"unresolvedBlockers"`
	UnresolvedFamilies []diagnostic.Family `json:"unresolvedFamilies"`
	AttemptsUsed       int                 `json:"attemptsUsed"`
	AttemptBudget      int                 `json:"attemptBudget"`
}

// Exportable reports whether nothing blocks a manufacturing export.
func (s FinalSummary) Exportable() bool {
	return s.Outcome == OutcomeConverged && s.BlockingCount == 0
}

func summarize(outcome Outcome, cls classify.Classification, attemptsUsed, budget int) FinalSummary {
	blockers := []string{}
	for _, d := range cls.Blocking() {
		blockers = append(blockers, d.String())
	}
	return FinalSummary{
		Outcome:            outcome,
		ReadinessScore:     ReadinessScore(cls.BlockingCount(), cls.WarningCount()),
		DiagnosticsCount:   len(cls.Diagnostics),
		BlockingCount:      cls.BlockingCount(),
		WarningCount:       cls.WarningCount(),
		UnresolvedBlockers: blockers,
		UnresolvedFamilies: append([]diagnostic.Family{}, cls.MustRepairFamilies...),
		AttemptsUsed:       attemptsUsed,
		AttemptBudget:      budget,
	}
}

// RepairResult is the outcome of applying one RepairPlan.
type RepairResult struct {
	Attempt        int             `json:"attempt"`
	Strategy       string          `json:"strategy"`
	BlockingBefore int             `json:"blockingBefore"`
	BlockingAfter  int             `json:"blockingAfter"`
	Demoted        int             `json:"demoted"`
	AutoFixed      int             `json:"autoFixed"`
	Revalidated    bool            `json:"revalidated"`
	Actions        []repair.Action `json:"actions"`
}

// Reduced reports whether the repair lowered the blocking count.
func (r RepairResult) Reduced() bool {
	return r.BlockingAfter < r.BlockingBefore
}

// ValueChange is a component whose value differs between two designs.
type ValueChange struct {
	Component string `json:"component"`
	Before    string `json:"before"`
	After     string `json:"after"`
}

// IterationDiff is the structural delta of one attempt. It is informational
// only; no decision reads it.
type IterationDiff struct {
	Attempt            int            `json:"attempt"`
	ComponentsAdded    []string       `json:"componentsAdded"`
	ComponentsRemoved  []string       `json:"componentsRemoved"`
	ValueChanges       []ValueChange  `json:"valueChanges"`
	TraceCountBefore   int            `json:"traceCountBefore"`
	TraceCountAfter    int            `json:"traceCountAfter"`
	TraceCountDelta    int            `json:"traceCountDelta"`
	NetTraceDelta      map[string]int `json:"netTraceDelta,omitempty"`
	SourceLinesAdded   int            `json:"sourceLinesAdded"`
	SourceLinesRemoved int            `json:"sourceLinesRemoved"`
}

// design is the comparable view of one revision.
type design struct {
	values map[string]string
	traces int
	byNet  map[string]int
}

func designOf(text string, c *circuit.Circuit) design {
	if c != nil {
		d := design{values: make(map[string]string, len(c.Components)), traces: len(c.Traces), byNet: c.TraceCountByNet()}
		for _, comp := range c.Components {
			d.values[comp.Name] = comp.Value
		}
		return d
	}
	doc := source.Parse(text)
	d := design{values: make(map[string]string), traces: len(doc.Traces())}
	for _, comp := range doc.Components() {
		d.values[comp.Name] = comp.Value()
	}
	return d
}

// Diff compares two revisions of a design. Circuits are used when available;
// otherwise the source is parsed and per-net trace counts are omitted.
func Diff(attempt int, beforeSrc string, before *circuit.Circuit, afterSrc string, after *circuit.Circuit) IterationDiff {
	b, a := designOf(beforeSrc, before), designOf(afterSrc, after)
	out := IterationDiff{
		Attempt:           attempt,
		ComponentsAdded:   []string{},
		ComponentsRemoved: []string{},
		ValueChanges:      []ValueChange{},
		TraceCountBefore:  b.traces,
		TraceCountAfter:   a.traces,
		TraceCountDelta:   a.traces - b.traces,
	}
	for name, v := range a.values {
		old, ok := b.values[name]
		switch {
		case !ok:
			out.ComponentsAdded = append(out.ComponentsAdded, name)
		case old != v:
			out.ValueChanges = append(out.ValueChanges, ValueChange{Component: name, Before: old, After: v})
		}
	}
	for name := range b.values {
		if _, ok := a.values[name]; !ok {
			out.ComponentsRemoved = append(out.ComponentsRemoved, name)
		}
	}
	sort.Strings(out.ComponentsAdded)
	sort.Strings(out.ComponentsRemoved)
	sort.Slice(out.ValueChanges, func(i, j int) bool { return out.ValueChanges[i].Component < out.ValueChanges[j].Component })

	if b.byNet != nil && a.byNet != nil {
		out.NetTraceDelta = make(map[string]int)
		for net, n := range a.byNet {
			if d := n - b.byNet[net]; d != 0 {
				out.NetTraceDelta[net] = d
			}
		}
		for net, n := range b.byNet {
			if _, ok := a.byNet[net]; !ok {
				out.NetTraceDelta[net] = -n
			}
		}
	}

	out.SourceLinesAdded, out.SourceLinesRemoved = lineDelta(beforeSrc, afterSrc)
	return out
}

func lineDelta(before, after string) (added, removed int) {
	if before == after {
		return 0, 0
	}
	for _, rec := range difflib.Diff(strings.Split(before, "\n"), strings.Split(after, "\n")) {
		switch rec.Delta {
		case difflib.RightOnly:
			added++
		case difflib.LeftOnly:
			removed++
		}
	}
	return added, removed
}
