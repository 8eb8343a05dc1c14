// Package classify partitions diagnostics into handling buckets.
package classify

import (
	"sort"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
)

// DefaultDemoteAfterAttempts is the number of consecutive prior attempts a
// low-severity signature must survive before it is demoted.
const DefaultDemoteAfterAttempts = 2

// Classification is the classifier output. The three family lists are
// sorted, pairwise disjoint and together cover every family present in
// Diagnostics.
type Classification struct {
	Diagnostics          []diagnostic.Diagnostic `json:"diagnostics"`
	AutoFixableFamilies  []diagnostic.Family     `json:"autoFixableFamilies"`
	ShouldDemoteFamilies []diagnostic.Family     `json:"shouldDemoteFamilies"`
	MustRepairFamilies   []diagnostic.Family     `json:"mustRepairFamilies"`
}

// Classifier assigns family and handling to diagnostics.
type Classifier struct {
	// DemoteAfterAttempts overrides DefaultDemoteAfterAttempts when positive.
	DemoteAfterAttempts int
}

// Classify runs the default classifier.
func Classify(diags []diagnostic.Diagnostic, h History) Classification {
	return Classifier{}.Classify(diags, h)
}

// Classify returns annotated copies of diags together with the family
// buckets. The input slice is not modified.
//
// Each occurrence starts at its family's default handling and may only be
// downgraded: info severity demotes immediately, and a warning-or-lower
// signature seen in DemoteAfterAttempts consecutive prior attempts demotes
// too. A family lands in the bucket of the worst handling among its
// occurrences.
func (c Classifier) Classify(diags []diagnostic.Diagnostic, h History) Classification {
	threshold := c.DemoteAfterAttempts
	if threshold <= 0 {
		threshold = DefaultDemoteAfterAttempts
	}

	out := Classification{
		Diagnostics:          make([]diagnostic.Diagnostic, 0, len(diags)),
		AutoFixableFamilies:  []diagnostic.Family{},
		ShouldDemoteFamilies: []diagnostic.Family{},
		MustRepairFamilies:   []diagnostic.Family{},
	}
	worst := make(map[diagnostic.Family]diagnostic.Handling)

	for _, d := range diags {
		rule := diagnostic.Lookup(d.Category)
		handling := rule.DefaultHandling

		demote := d.Severity <= diagnostic.SeverityInfo ||
			(d.Severity <= diagnostic.SeverityWarning && h.Attempts(d.Signature) >= threshold)
		if demote && handling.Worse(diagnostic.HandlingShouldDemote) {
			handling = diagnostic.HandlingShouldDemote
		}

		out.Diagnostics = append(out.Diagnostics, d.Classified(rule.Family, handling))
		if cur, ok := worst[rule.Family]; !ok || handling.Worse(cur) {
			worst[rule.Family] = handling
		}
	}

	for f, hd := range worst {
		switch hd {
		case diagnostic.HandlingMustRepair:
			out.MustRepairFamilies = append(out.MustRepairFamilies, f)
		case diagnostic.HandlingAutoFixable:
			out.AutoFixableFamilies = append(out.AutoFixableFamilies, f)
		default:
			out.ShouldDemoteFamilies = append(out.ShouldDemoteFamilies, f)
		}
	}
	sortFamilies(out.AutoFixableFamilies)
	sortFamilies(out.ShouldDemoteFamilies)
	sortFamilies(out.MustRepairFamilies)
	return out
}

// BlockingCount returns the number of must-repair diagnostics.
func (c Classification) BlockingCount() int {
	return c.count(diagnostic.HandlingMustRepair)
}

// WarningCount returns the number of non-blocking diagnostics.
func (c Classification) WarningCount() int {
	return len(c.Diagnostics) - c.BlockingCount()
}

// DemotedCount returns the number of should-demote diagnostics.
func (c Classification) DemotedCount() int {
	return c.count(diagnostic.HandlingShouldDemote)
}

// AutoFixableCount returns the number of auto-fixable diagnostics.
func (c Classification) AutoFixableCount() int {
	return c.count(diagnostic.HandlingAutoFixable)
}

// Blocking returns the must-repair diagnostics in order.
func (c Classification) Blocking() []diagnostic.Diagnostic {
	return c.With(diagnostic.HandlingMustRepair)
}

// With returns the diagnostics classified with handling h, in order.
func (c Classification) With(h diagnostic.Handling) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	for _, d := range c.Diagnostics {
		if d.Handling == h {
			out = append(out, d)
		}
	}
	return out
}

// HasMustRepair reports whether family f is in the must-repair bucket.
func (c Classification) HasMustRepair(f diagnostic.Family) bool {
	for _, m := range c.MustRepairFamilies {
		if m == f {
			return true
		}
	}
	return false
}

func (c Classification) count(h diagnostic.Handling) int {
	n := 0
	for _, d := range c.Diagnostics {
		if d.Handling == h {
			n++
		}
	}
	return n
}

func sortFamilies(fs []diagnostic.Family) {
	sort.Slice(fs, func(i, j int) bool { return fs[i] < fs[j] })
}
