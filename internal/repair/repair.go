// Package repair applies a repair plan to design source text.
package repair

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/rebuild"
	"github.com/dusk-indust/circuitloop/internal/source"
	"github.com/dusk-indust/circuitloop/internal/strategy"
)

// ActionKind names a concrete change made to the design.
type ActionKind string

const (
	ActionInsertComponent ActionKind = "insert_component"
	ActionInsertTrace     ActionKind = "insert_trace"
	ActionRemoveTrace     ActionKind = "remove_trace"
	ActionSetFootprint    ActionKind = "set_footprint"
	ActionMoveComponent   ActionKind = "move_component"
	ActionDemote          ActionKind = "demote"
	ActionFallback        ActionKind = "fallback"
	ActionSkip            ActionKind = "skip"
)

// Action is one applied change, in application order.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

func (a Action) String() string {
	if a.Target == "" {
		return fmt.Sprintf("%s: %s", a.Kind, a.Detail)
	}
	return fmt.Sprintf("%s %s: %s", a.Kind, a.Target, a.Detail)
}

// Outcome is the repaired source and what was done to it.
type Outcome struct {
	Source  string            `json:"-"`
	Applied strategy.Strategy `json:"applied"`
	Actions []Action          `json:"actions"`
	Changed bool              `json:"changed"`
}

// Count returns the number of actions of kind k.
func (o Outcome) Count(k ActionKind) int {
	n := 0
	for _, a := range o.Actions {
		if a.Kind == k {
			n++
		}
	}
	return n
}

// Options tunes the repair operations. Zero values select defaults.
type Options struct {
	SpreadFactor float64 `yaml:"spread_factor" json:"spreadFactor" env:"SPREAD_FACTOR"`
	ReliefStep   float64 `yaml:"relief_step" json:"reliefStep" env:"RELIEF_STEP"`
	GridPitch    float64 `yaml:"grid_pitch" json:"gridPitch" env:"GRID_PITCH"`

	DecouplingValue     string `yaml:"decoupling_value" json:"decouplingValue" env:"DECOUPLING_VALUE"`
	DecouplingFootprint string `yaml:"decoupling_footprint" json:"decouplingFootprint" env:"DECOUPLING_FOOTPRINT"`
	GroundNet           string `yaml:"ground_net" json:"groundNet" env:"GROUND_NET"`

	// Footprints maps a component kind to the footprint assigned when one
	// is missing.
	Footprints map[string]string `yaml:"footprints" json:"footprints,omitempty"`
}

// DefaultOptions returns the stock repair options.
func DefaultOptions() Options {
	return Options{
		SpreadFactor:        1.5,
		ReliefStep:          2,
		GridPitch:           5,
		DecouplingValue:     "100nF",
		DecouplingFootprint: "0402",
		GroundNet:           "GND",
		Footprints: map[string]string{
			"resistor":   "0402",
			"capacitor":  "0402",
			"inductor":   "0603",
			"led":        "0603",
			"diode":      "sod123",
			"chip":       "soic8",
			"transistor": "sot23",
			"mosfet":     "sot23",
			"pushbutton": "pushbutton",
			"crystal":    "hc49",
		},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SpreadFactor <= 1 {
		o.SpreadFactor = d.SpreadFactor
	}
	if o.ReliefStep <= 0 {
		o.ReliefStep = d.ReliefStep
	}
	if o.GridPitch <= 0 {
		o.GridPitch = d.GridPitch
	}
	if o.DecouplingValue == "" {
		o.DecouplingValue = d.DecouplingValue
	}
	if o.DecouplingFootprint == "" {
		o.DecouplingFootprint = d.DecouplingFootprint
	}
	if o.GroundNet == "" {
		o.GroundNet = d.GroundNet
	}
	if o.Footprints == nil {
		o.Footprints = d.Footprints
	}
	return o
}

// Applier turns a RepairPlan into edits of the design source.
type Applier struct {
	Options Options
	Logger  *slog.Logger
}

// NewApplier returns an applier with opts completed by defaults.
func NewApplier(opts Options, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Applier{Options: opts.withDefaults(), Logger: logger}
}

// change accumulates the edits and actions of one Apply call.
type change struct {
	doc     *source.Document
	edits   []source.Edit
	lines   []string
	actions []Action
}

func (c *change) act(kind ActionKind, target, format string, args ...any) {
	c.actions = append(c.actions, Action{Kind: kind, Target: target, Detail: fmt.Sprintf(format, args...)})
}

// Apply repairs text according to plan. Auto-fixable diagnostics are always
// fixed in place and should-demote ones are recorded; the plan's strategy
// then decides whether traces are rebuilt or components moved. diags must be
// classified.
func (a *Applier) Apply(ctx context.Context, plan strategy.RepairPlan, text string, diags []diagnostic.Diagnostic) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{Source: text}, err
	}
	if a.Logger == nil {
		a.Logger = slog.New(slog.DiscardHandler)
	}
	opts := a.Options.withDefaults()

	c := &change{doc: source.Parse(text)}
	applied := plan.Strategy

	for _, d := range diags {
		if d.Handling == diagnostic.HandlingShouldDemote {
			c.act(ActionDemote, d.Signature, "%s demoted to non-blocking", d.Category)
		}
	}
	autoFix(c, opts, diags)

	switch plan.Strategy {
	case strategy.TraceRebuild:
		if !rebuildTraces(c) {
			applied = strategy.Normal
		}
	case strategy.LayoutSpread:
		spreadLayout(c, opts)
	case strategy.CongestionRelief:
		relieveCongestion(c, opts, diags)
	}

	if len(c.lines) > 0 {
		c.edits = append(c.edits, c.doc.InsertLines(c.lines))
	}

	out, err := source.Rewrite(text, c.edits)
	if err != nil {
		return Outcome{Source: text, Applied: applied, Actions: c.actions}, fmt.Errorf("repair: apply %s: %w", plan.Strategy, err)
	}

	a.Logger.Debug("repair applied",
		"attempt", plan.Attempt,
		"strategy", applied,
		"actions", len(c.actions),
		"edits", len(c.edits))

	return Outcome{
		Source:  out,
		Applied: applied,
		Actions: c.actions,
		Changed: out != text,
	}, nil
}

// rebuildTraces replaces every trace with the rebuilder's output. It reports
// false, leaving the traces alone, when no net intent exists.
func rebuildTraces(c *change) bool {
	res := rebuild.Rebuild(c.doc.Text)
	if res.Reason != "" {
		c.act(ActionFallback, "", "trace rebuild unavailable (%s); applying in-place fixes only", res.Reason)
		return false
	}
	for _, tr := range c.doc.Traces() {
		c.edits = append(c.edits, c.doc.RemoveElement(tr.Element))
		c.act(ActionRemoveTrace, tr.Describe(), "removed trace at line %d", tr.Line)
	}
	for _, ts := range res.Traces {
		c.lines = append(c.lines, ts.String())
		c.act(ActionInsertTrace, ts.From+" -> "+ts.To, "rebuilt from net %s", ts.Net)
	}
	return true
}
