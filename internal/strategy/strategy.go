// Package strategy selects the repair strategy for one attempt.
package strategy

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
)

// Strategy is one of the mutually exclusive repair approaches.
type Strategy string

const (
	Normal           Strategy = "normal"
	TraceRebuild     Strategy = "structural_trace_rebuild"
	LayoutSpread     Strategy = "structural_layout_spread"
	CongestionRelief Strategy = "targeted_congestion_relief"
)

// Priority lists strategies from highest to lowest precedence. Escalation
// walks this list cyclically.
var Priority = []Strategy{TraceRebuild, LayoutSpread, CongestionRelief, Normal}

// Outcome records what the previous attempt did.
type Outcome struct {
	Strategy Strategy `json:"strategy"`
	// Reduced reports whether the blocking count dropped after the repair.
	Reduced bool `json:"reduced"`
}

// Input is everything the selector looks at.
type Input struct {
	Attempt      int
	AutoFixable  []diagnostic.Family
	ShouldDemote []diagnostic.Family
	MustRepair   []diagnostic.Family

	// CongestedComponents lists the components named by congestion
	// diagnostics; ComponentCount is the design's total.
	CongestedComponents []string
	ComponentCount      int

	Previous *Outcome
}

// RepairPlan is the decision for one attempt. It is never mutated after
// Select returns it.
type RepairPlan struct {
	Attempt      int                 `json:"attempt"`
	AutoFixable  []diagnostic.Family `json:"autoFixable"`
	ShouldDemote []diagnostic.Family `json:"shouldDemote"`
	MustRepair   []diagnostic.Family `json:"mustRepair"`
	Strategy     Strategy            `json:"strategy"`
	Escalated    bool                `json:"escalated,omitempty"`
	Reason       string              `json:"reason"`
}

// Select picks exactly one strategy from the must-repair families and the
// attempt index. When the previous attempt applied the same strategy without
// reducing the blocking count, the next strategy in Priority is chosen
// instead.
func Select(in Input) RepairPlan {
	plan := RepairPlan{
		Attempt:      in.Attempt,
		AutoFixable:  clone(in.AutoFixable),
		ShouldDemote: clone(in.ShouldDemote),
		MustRepair:   clone(in.MustRepair),
	}

	plan.Strategy, plan.Reason = decide(in)

	if p := in.Previous; p != nil && !p.Reduced && p.Strategy == plan.Strategy {
		next := escalate(plan.Strategy)
		plan.Reason = fmt.Sprintf("%s did not reduce blocking diagnostics on attempt %d; escalating to %s",
			plan.Strategy, in.Attempt-1, next)
		plan.Strategy = next
		plan.Escalated = true
	}
	return plan
}

func decide(in Input) (Strategy, string) {
	var connectivity, overlap, congestion []string
	for _, f := range in.MustRepair {
		switch {
		case f == diagnostic.FamilyPlacementOverlap:
			overlap = append(overlap, string(f))
		case f.Concern() == diagnostic.ConcernConnectivity:
			connectivity = append(connectivity, string(f))
		case f.Concern() == diagnostic.ConcernCongestion:
			congestion = append(congestion, string(f))
		}
	}

	switch {
	case len(connectivity) > 0 && in.Attempt >= 1:
		return TraceRebuild, "connectivity defects remain: " + strings.Join(connectivity, ", ")
	case len(overlap) > 0:
		return LayoutSpread, "placement overlap"
	case len(congestion) > 0 && Localized(len(in.CongestedComponents), in.ComponentCount):
		return CongestionRelief, fmt.Sprintf("congestion localized to %d of %d components",
			len(in.CongestedComponents), in.ComponentCount)
	case len(congestion) > 0:
		return LayoutSpread, "congestion is global"
	case len(connectivity) > 0:
		return Normal, "connectivity defects on first attempt; applying in-place fixes only"
	default:
		return Normal, "no structural repair required"
	}
}

// Localized reports whether congestion affecting affected of total
// components is confined to a subset: at least one and at most half.
func Localized(affected, total int) bool {
	return affected > 0 && total > 0 && affected*2 <= total
}

func escalate(s Strategy) Strategy {
	for i, p := range Priority {
		if p == s {
			return Priority[(i+1)%len(Priority)]
		}
	}
	return Normal
}

func clone(fs []diagnostic.Family) []diagnostic.Family {
	return append([]diagnostic.Family{}, fs...)
}
