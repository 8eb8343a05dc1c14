package mcptools

import (
	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/rebuild"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// --- MCP tool types ---
// These tools are exposed when the binary runs as an MCP server
// (`circuitloop serve-mcp`) so an agent can validate and repair designs
// through structured calls.

// PreflightSourceInput is the input for the preflight_source tool.
type PreflightSourceInput struct {
	Source string `json:"source" jsonschema:"design source text"`
}

// PreflightSourceOutput is the result of the preflight_source tool.
type PreflightSourceOutput struct {
	Diagnostics   []diagnostic.Diagnostic `json:"diagnostics"`
	BlockingCount int                     `json:"blockingCount"`
	// CompileSkipped reports whether the loop would skip the compiler.
	CompileSkipped bool `json:"compileSkipped"`
}

// RebuildTracesInput is the input for the rebuild_traces tool.
type RebuildTracesInput struct {
	Source string `json:"source" jsonschema:"design source text"`
}

// RebuildTracesOutput is the result of the rebuild_traces tool.
type RebuildTracesOutput struct {
	Traces     []rebuild.TraceStatement `json:"traces"`
	Statements []string                 `json:"statements"`
	Reason     string                   `json:"reason,omitempty"`
}

// DiagnosticInput is a raw finding to classify.
type DiagnosticInput struct {
	Category   string   `json:"category" jsonschema:"diagnostic category, e.g. pcb_trace_error"`
	Message    string   `json:"message" jsonschema:"human-readable message"`
	Severity   string   `json:"severity,omitempty" jsonschema:"info, warning, error or critical"`
	Subject    string   `json:"subject,omitempty" jsonschema:"stable subject used for the signature"`
	Components []string `json:"components,omitempty" jsonschema:"component names involved"`
	Line       int      `json:"line,omitempty" jsonschema:"1-based source line"`
}

// ClassifyDiagnosticsInput is the input for the classify_diagnostics tool.
type ClassifyDiagnosticsInput struct {
	Diagnostics []DiagnosticInput `json:"diagnostics" jsonschema:"findings to classify"`
	// History maps signatures to the number of consecutive prior attempts
	// that reported them.
	History             map[string]int `json:"history,omitempty" jsonschema:"signature streaks from earlier attempts"`
	Attempt             int            `json:"attempt,omitempty" jsonschema:"zero-based attempt index for strategy selection"`
	DemoteAfterAttempts int            `json:"demoteAfterAttempts,omitempty" jsonschema:"demotion streak; 0 uses the default"`
}

// ClassifyDiagnosticsOutput is the result of the classify_diagnostics tool.
type ClassifyDiagnosticsOutput struct {
	Diagnostics          []diagnostic.Diagnostic `json:"diagnostics"`
	AutoFixableFamilies  []diagnostic.Family     `json:"autoFixableFamilies"`
	ShouldDemoteFamilies []diagnostic.Family     `json:"shouldDemoteFamilies"`
	MustRepairFamilies   []diagnostic.Family     `json:"mustRepairFamilies"`
	BlockingCount        int                     `json:"blockingCount"`
	WarningCount         int                     `json:"warningCount"`
	History              map[string]int          `json:"history"`
	Plan                 *strategy.RepairPlan    `json:"plan,omitempty"`
}

// ConvergeDesignInput is the input for the converge_design tool.
type ConvergeDesignInput struct {
	SessionID     string `json:"sessionId,omitempty" jsonschema:"opaque session id; enables session context"`
	Source        string `json:"source,omitempty" jsonschema:"design source; empty reuses the session's last design"`
	AttemptBudget int    `json:"attemptBudget,omitempty" jsonschema:"maximum attempts; 0 uses the configured budget"`
}

// ConvergeDesignOutput is the result of the converge_design tool.
type ConvergeDesignOutput struct {
	SessionID          string   `json:"sessionId"`
	Outcome            string   `json:"outcome"`
	ReadinessScore     int      `json:"readinessScore"`
	AttemptsUsed       int      `json:"attemptsUsed"`
	AttemptBudget      int      `json:"attemptBudget"`
	Exportable         bool     `json:"exportable"`
	UnresolvedBlockers []string `json:"unresolvedBlockers"`
	Strategies         []string `json:"strategies"`
	Progress           []string `json:"progress"`
	Source             string   `json:"source"`
	Error              string   `json:"error,omitempty"`
}
