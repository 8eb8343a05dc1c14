// Package diagnostic defines the canonical validation finding shared by the
// preflight analyzer, the classifier and the convergence loop.
package diagnostic

import (
	"fmt"
	"sort"
	"strings"
)

// Severity is an ordinal; higher is worse.
type Severity int

const (
	SeverityInfo     Severity = 1
	SeverityWarning  Severity = 2
	SeverityError    Severity = 3
	SeverityCritical Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a collaborator-reported severity name to a Severity.
// Unknown names map to SeverityError.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "notice", "hint":
		return SeverityInfo
	case "warning", "warn":
		return SeverityWarning
	case "critical", "fatal":
		return SeverityCritical
	default:
		return SeverityError
	}
}

// Source identifies where a diagnostic originated.
type Source string

const (
	SourceDesign   Source = "design_source"
	SourceCompiler Source = "compiler"
	SourceReviewer Source = "schematic_reviewer"
)

// Target points at the design element a diagnostic is about. All fields are
// optional.
type Target struct {
	Component string `json:"component,omitempty"`
	Pin       string `json:"pin,omitempty"`
	Net       string `json:"net,omitempty"`
}

// Diagnostic is one detected issue. It is a value type: copies are cheap and
// nothing in this module mutates a Diagnostic after construction.
type Diagnostic struct {
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Signature  string   `json:"signature"`
	Severity   Severity `json:"severity"`
	Source     Source   `json:"source"`
	Family     Family   `json:"family,omitempty"`
	Handling   Handling `json:"handling,omitempty"`
	Target     Target   `json:"target,omitempty"`
	Components []string `json:"components,omitempty"`
	Line       int      `json:"line,omitempty"`
}

// Option customizes a Diagnostic built by New.
type Option func(*Diagnostic)

// WithSeverity overrides the category's default severity.
func WithSeverity(s Severity) Option {
	return func(d *Diagnostic) { d.Severity = s }
}

// WithSource sets the origin of the diagnostic.
func WithSource(s Source) Option {
	return func(d *Diagnostic) { d.Source = s }
}

// WithTarget sets the element the diagnostic refers to.
func WithTarget(t Target) Option {
	return func(d *Diagnostic) { d.Target = t }
}

// WithComponents records the component references affected by the issue.
func WithComponents(refs ...string) Option {
	return func(d *Diagnostic) {
		d.Components = append([]string(nil), refs...)
	}
}

// WithLine records the 1-based source line of the issue.
func WithLine(line int) Option {
	return func(d *Diagnostic) { d.Line = line }
}

// WithSubject sets the deduplication subject used to derive the signature.
// The subject must describe the defect, not its position, so that the
// signature survives unrelated edits to the design.
func WithSubject(subject string) Option {
	return func(d *Diagnostic) {
		d.Signature = Signature(d.Category, subject)
	}
}

// New builds an unclassified diagnostic. Without WithSubject the signature is
// derived from the target and message.
func New(category Category, message string, opts ...Option) Diagnostic {
	d := Diagnostic{
		Category: category,
		Message:  message,
		Severity: Lookup(category).DefaultSeverity,
		Source:   SourceDesign,
	}
	for _, opt := range opts {
		opt(&d)
	}
	if d.Signature == "" {
		subject := d.Target.Component + "." + d.Target.Pin + "@" + d.Target.Net
		if d.Target == (Target{}) {
			subject = d.Message
		}
		d.Signature = Signature(category, subject)
	}
	return d
}

// Signature returns the deduplication key for a defect of category c about
// subject.
func Signature(c Category, subject string) string {
	return fmt.Sprintf("%s|%s", c, strings.TrimSpace(subject))
}

// Classified returns a copy of d annotated with family and handling.
func (d Diagnostic) Classified(f Family, h Handling) Diagnostic {
	d.Family = f
	d.Handling = h
	if d.Components != nil {
		d.Components = append([]string(nil), d.Components...)
	}
	return d
}

// IsClassified reports whether the classifier has assigned a handling.
func (d Diagnostic) IsClassified() bool {
	return d.Handling != HandlingUnset
}

// IsBlocking reports whether the diagnostic blocks convergence.
func (d Diagnostic) IsBlocking() bool {
	return d.Handling == HandlingMustRepair
}

// String renders the diagnostic as a single human-readable line.
func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", d.Severity, d.Category, d.Message)
	if d.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", d.Line)
	}
	return b.String()
}

// Dedupe drops diagnostics whose signature was already seen, keeping the first
// occurrence and the input order.
func Dedupe(diags []Diagnostic) []Diagnostic {
	seen := make(map[string]bool, len(diags))
	out := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		if seen[d.Signature] {
			continue
		}
		seen[d.Signature] = true
		out = append(out, d)
	}
	return out
}

// Merge returns base unchanged followed by the entries of extra whose
// signature appears neither in base nor earlier in extra. Repeated entries
// within base are kept.
func Merge(base, extra []Diagnostic) []Diagnostic {
	seen := Signatures(base)
	out := make([]Diagnostic, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, d := range extra {
		if seen[d.Signature] {
			continue
		}
		seen[d.Signature] = true
		out = append(out, d)
	}
	return out
}

// Signatures returns the set of signatures in diags.
func Signatures(diags []Diagnostic) map[string]bool {
	out := make(map[string]bool, len(diags))
	for _, d := range diags {
		out[d.Signature] = true
	}
	return out
}

func sortStrings[T ~string](s []T) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}
