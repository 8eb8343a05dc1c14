// Package preflight statically checks trace declarations in design source
// before any compilation is attempted.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/source"
)

// Analyze runs the lexical trace checks over text. It never compiles the
// design and never fails; defects are returned as unclassified diagnostics
// in trace declaration order, from-endpoint before to-endpoint.
func Analyze(text string) []diagnostic.Diagnostic {
	doc := source.Parse(text)
	return append(lexical(doc), traceChecks(doc)...)
}

func lexical(doc *source.Document) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic
	for _, p := range doc.Problems {
		diags = append(diags, diagnostic.New(diagnostic.CategorySourceSyntax,
			p.Message,
			diagnostic.WithSubject(p.Message),
			diagnostic.WithLine(p.Line)))
	}
	return diags
}

// traceChecks reports one diagnostic per defect and per trace; identical
// traces each get their own.
func traceChecks(doc *source.Document) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic
	comps := doc.ComponentIndex()
	for _, tr := range doc.Traces() {
		if d, ok := missingEndpoint(tr); ok {
			diags = append(diags, d)
		}
		for _, ref := range tr.Endpoints() {
			if d, ok := checkEndpoint(ref, tr.Line, comps); ok {
				diags = append(diags, d)
			}
		}
	}
	return diags
}

func missingEndpoint(tr source.Trace) (diagnostic.Diagnostic, bool) {
	if tr.Complete() {
		return diagnostic.Diagnostic{}, false
	}

	var msg string
	switch {
	case tr.HasPath:
		msg = fmt.Sprintf("trace path has %d endpoint(s); at least two are required", len(tr.Path))
	case !tr.HasFrom && !tr.HasTo:
		msg = "trace declares neither a from nor a to endpoint"
	case !tr.HasTo:
		msg = fmt.Sprintf("trace from %q is missing its to endpoint", tr.From)
	default:
		msg = fmt.Sprintf("trace to %q is missing its from endpoint", tr.To)
	}
	return diagnostic.New(diagnostic.CategoryTraceMissingEndpoint, msg,
		diagnostic.WithSubject(tr.Describe()),
		diagnostic.WithLine(tr.Line)), true
}

func checkEndpoint(ref string, line int, comps map[string]source.Component) (diagnostic.Diagnostic, bool) {
	ep, err := source.ParseEndpoint(ref)
	if err != nil {
		msg := err.Error()
		var se *source.SelectorError
		if errors.As(err, &se) {
			msg = fmt.Sprintf("endpoint %q is not a valid selector: %s", se.Ref, se.Reason)
		}
		return diagnostic.New(diagnostic.CategoryTraceInvalidSelector, msg,
			diagnostic.WithSubject(ref),
			diagnostic.WithLine(line)), true
	}
	if ep.IsNet {
		return diagnostic.Diagnostic{}, false
	}

	comp, ok := comps[ep.Component]
	if !ok {
		return diagnostic.New(diagnostic.CategoryTraceUnknownComponent,
			fmt.Sprintf("endpoint %q references undeclared component %s", ref, ep.Component),
			diagnostic.WithTarget(diagnostic.Target{Component: ep.Component}),
			diagnostic.WithComponents(ep.Component),
			diagnostic.WithSubject(ep.String()),
			diagnostic.WithLine(line)), true
	}

	has, knowable := comp.HasPin(ep.Pin)
	if knowable && !has {
		return diagnostic.New(diagnostic.CategoryTraceUnknownPin,
			fmt.Sprintf("endpoint %q references pin %s not declared on %s %s", ref, ep.Pin, comp.Kind, comp.Name),
			diagnostic.WithTarget(diagnostic.Target{Component: ep.Component, Pin: ep.Pin}),
			diagnostic.WithComponents(ep.Component),
			diagnostic.WithSubject(ep.String()),
			diagnostic.WithLine(line)), true
	}
	return diagnostic.Diagnostic{}, false
}

// Analyzer runs Analyze behind an optional full-grammar syntax gate.
type Analyzer struct {
	Syntax source.SyntaxChecker // nil disables the gate
	Logger *slog.Logger
}

// Run returns the syntax gate's findings, then the lexer's problems not
// already reported by the gate, then the trace checks. Lexer problems are
// dropped when the gate parses the source cleanly. A failing checker is
// logged and skipped; it never hides the lexical checks.
func (a *Analyzer) Run(ctx context.Context, text string) []diagnostic.Diagnostic {
	doc := source.Parse(text)
	lex := lexical(doc)

	var gate []diagnostic.Diagnostic
	if a.Syntax != nil {
		issues, err := a.Syntax.Check(ctx, text)
		switch {
		case err != nil:
			a.logger().Warn("syntax check skipped", "error", err)
		case len(issues) == 0 && len(lex) > 0:
			a.logger().Debug("lexer problems dropped, grammar parse is clean", "problems", len(lex))
			lex = nil
		}
		for _, is := range issues {
			gate = append(gate, diagnostic.New(diagnostic.CategorySourceSyntax,
				"design source does not parse: "+is.String(),
				diagnostic.WithSubject(is.Snippet),
				diagnostic.WithLine(is.Line)))
		}
	}
	diags := diagnostic.Merge(gate, diagnostic.Dedupe(lex))
	return append(diags, traceChecks(doc)...)
}

func (a *Analyzer) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.Logger
}
