package mcptools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/classify"
	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/export"
	"github.com/dusk-indust/circuitloop/internal/orchestrator"
	"github.com/dusk-indust/circuitloop/internal/preflight"
	"github.com/dusk-indust/circuitloop/internal/rebuild"
	"github.com/dusk-indust/circuitloop/internal/session"
	"github.com/dusk-indust/circuitloop/internal/source"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// Deps are the collaborators behind the tools. Compiler and Reviewer are
// required by converge_design; the other tools work without them.
type Deps struct {
	Config    orchestrator.Config
	Compiler  circuit.Compiler
	Reviewer  circuit.Reviewer
	Previewer circuit.Previewer
	Syntax    source.SyntaxChecker
	Sessions  session.Store
	Logger    *slog.Logger
}

// Service handles MCP tool calls.
type Service struct {
	deps     Deps
	analyzer *preflight.Analyzer
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		deps:     deps,
		analyzer: &preflight.Analyzer{Syntax: deps.Syntax, Logger: logger},
		logger:   logger,
	}
}

// PreflightSource runs the connectivity preflight over design source.
func (s *Service) PreflightSource(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PreflightSourceInput,
) (*mcp.CallToolResult, PreflightSourceOutput, error) {
	diags := s.analyzer.Run(ctx, input.Source)
	cls := classify.Classify(diags, classify.History{})
	return nil, PreflightSourceOutput{
		Diagnostics:    nonNil(cls.Diagnostics),
		BlockingCount:  cls.BlockingCount(),
		CompileSkipped: cls.BlockingCount() > 0,
	}, nil
}

// RebuildTraces synthesizes trace statements from net intent.
func (s *Service) RebuildTraces(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input RebuildTracesInput,
) (*mcp.CallToolResult, RebuildTracesOutput, error) {
	res := rebuild.Rebuild(input.Source)
	return nil, RebuildTracesOutput{
		Traces:     nonNil(res.Traces),
		Statements: nonNil(res.Statements()),
		Reason:     res.Reason,
	}, nil
}

// ClassifyDiagnostics classifies raw findings and, when any block, selects
// the repair strategy for the given attempt.
func (s *Service) ClassifyDiagnostics(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ClassifyDiagnosticsInput,
) (*mcp.CallToolResult, ClassifyDiagnosticsOutput, error) {
	diags := make([]diagnostic.Diagnostic, 0, len(input.Diagnostics))
	for i, in := range input.Diagnostics {
		if in.Message == "" {
			return nil, ClassifyDiagnosticsOutput{}, fmt.Errorf("diagnostic %d: message is required", i)
		}
		opts := []diagnostic.Option{
			diagnostic.WithLine(in.Line),
			diagnostic.WithComponents(in.Components...),
		}
		if in.Subject != "" {
			opts = append(opts, diagnostic.WithSubject(in.Subject))
		}
		if in.Severity != "" {
			opts = append(opts, diagnostic.WithSeverity(diagnostic.ParseSeverity(in.Severity)))
		}
		diags = append(diags, diagnostic.New(diagnostic.ParseCategory(in.Category), in.Message, opts...))
	}

	history := classify.HistoryFrom(input.History)
	cls := classify.Classifier{DemoteAfterAttempts: input.DemoteAfterAttempts}.Classify(diags, history)

	out := ClassifyDiagnosticsOutput{
		Diagnostics:          nonNil(cls.Diagnostics),
		AutoFixableFamilies:  nonNil(cls.AutoFixableFamilies),
		ShouldDemoteFamilies: nonNil(cls.ShouldDemoteFamilies),
		MustRepairFamilies:   nonNil(cls.MustRepairFamilies),
		BlockingCount:        cls.BlockingCount(),
		WarningCount:         cls.WarningCount(),
		History:              history.Advance(diags).Snapshot(),
	}
	if cls.BlockingCount() > 0 {
		plan := strategy.Select(strategy.Input{
			Attempt:      input.Attempt,
			AutoFixable:  cls.AutoFixableFamilies,
			ShouldDemote: cls.ShouldDemoteFamilies,
			MustRepair:   cls.MustRepairFamilies,
		})
		plan.AutoFixable = nonNil(plan.AutoFixable)
		plan.ShouldDemote = nonNil(plan.ShouldDemote)
		plan.MustRepair = nonNil(plan.MustRepair)
		out.Plan = &plan
	}
	return nil, out, nil
}

// ConvergeDesign runs the full validate-and-repair loop.
func (s *Service) ConvergeDesign(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ConvergeDesignInput,
) (*mcp.CallToolResult, ConvergeDesignOutput, error) {
	if s.deps.Compiler == nil || s.deps.Reviewer == nil {
		return nil, ConvergeDesignOutput{}, errors.New("converge_design: no compiler or reviewer configured")
	}

	req := orchestrator.Request{SessionID: input.SessionID, Source: input.Source}
	if s.deps.Sessions != nil && input.SessionID != "" {
		c, ok, err := s.deps.Sessions.Get(ctx, input.SessionID)
		switch {
		case err != nil:
			s.logger.Warn("session lookup failed", "session_id", input.SessionID, "error", err)
		case ok:
			req.Baseline = c.LastConverged
			if req.Source == "" {
				req.Source = c.LastSource
			}
		}
	}
	if req.Source == "" {
		return nil, ConvergeDesignOutput{}, errors.New("converge_design: source is required")
	}

	cfg := s.deps.Config
	if input.AttemptBudget > 0 {
		cfg.AttemptBudget = input.AttemptBudget
	}
	opts := []orchestrator.Option{orchestrator.WithLogger(s.logger)}
	if s.deps.Previewer != nil {
		opts = append(opts, orchestrator.WithPreviewer(s.deps.Previewer))
	}
	if s.deps.Syntax != nil {
		opts = append(opts, orchestrator.WithSyntaxChecker(s.deps.Syntax))
	}
	ctrl := orchestrator.New(cfg, s.deps.Compiler, s.deps.Reviewer, opts...)

	res := ctrl.Run(ctx, req, nil)

	if s.deps.Sessions != nil && input.SessionID != "" && res.Outcome == orchestrator.OutcomeConverged {
		if err := session.RecordConverged(ctx, s.deps.Sessions, input.SessionID, res.Circuit, res.Source, res.Findings()); err != nil {
			s.logger.Warn("session write failed", "session_id", input.SessionID, "error", err)
		}
	}

	out := ConvergeDesignOutput{
		SessionID:          res.SessionID,
		Outcome:            string(res.Outcome),
		ReadinessScore:     res.Summary.ReadinessScore,
		AttemptsUsed:       res.Summary.AttemptsUsed,
		AttemptBudget:      res.Summary.AttemptBudget,
		Exportable:         export.Gate(res.Summary) == nil,
		UnresolvedBlockers: nonNil(res.Summary.UnresolvedBlockers),
		Strategies:         []string{},
		Progress:           []string{},
		Source:             res.Source,
	}
	for _, p := range res.Plans {
		out.Strategies = append(out.Strategies, string(p.Strategy))
	}
	for _, ev := range res.Events.Events() {
		out.Progress = append(out.Progress, orchestrator.FormatEvent(ev))
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return nil, out, nil
}

// nonNil keeps empty lists as [] rather than null in structured output.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
