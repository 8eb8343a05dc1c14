// Package review validates compiled circuits against electrical,
// connectivity and placement rules using the netlist graph.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/graph"
)

// Rules tunes the reviewer. Zero values select defaults.
type Rules struct {
	// CongestionLimit is the most components a placement cell may hold.
	CongestionLimit int     `yaml:"congestion_limit" json:"congestionLimit" env:"CONGESTION_LIMIT"`
	CellSize        float64 `yaml:"cell_size" json:"cellSize" env:"CELL_SIZE"`
	// PowerPinPattern matches pin names and labels that carry supply.
	PowerPinPattern string `yaml:"power_pin_pattern" json:"powerPinPattern"`
	// SkipFootprintCheck disables missing-footprint findings.
	SkipFootprintCheck bool `yaml:"skip_footprint_check" json:"skipFootprintCheck" env:"SKIP_FOOTPRINT_CHECK"`
}

const defaultPowerPattern = `(?i)^(vcc|vdd|vin|vbat|v\+|avcc|avdd|dvdd|[0-9]+v[0-9]*|v[0-9]+(_[0-9]+)?)$`

func (r Rules) withDefaults() Rules {
	if r.CongestionLimit <= 0 {
		r.CongestionLimit = 4
	}
	if r.CellSize <= 0 {
		r.CellSize = 10
	}
	if r.PowerPinPattern == "" {
		r.PowerPinPattern = defaultPowerPattern
	}
	return r
}

// footprintSizes are body extents in millimetres (width, height).
var footprintSizes = map[string][2]float64{
	"0402":       {1.0, 0.5},
	"0603":       {1.6, 0.8},
	"0805":       {2.0, 1.25},
	"1206":       {3.2, 1.6},
	"sod123":     {3.7, 1.6},
	"sot23":      {3.0, 3.0},
	"soic8":      {5.0, 6.0},
	"hc49":       {11.0, 4.7},
	"pushbutton": {6.0, 6.0},
}

// RuleReviewer implements circuit.Reviewer over a netlist graph store.
type RuleReviewer struct {
	// NewStore opens a fresh graph store per review. Nil uses graph.MemStore.
	NewStore func() (graph.Store, error)
	Rules    Rules
	Logger   *slog.Logger
}

var _ circuit.Reviewer = (*RuleReviewer)(nil)

// Review runs every rule and returns the findings with a connectivity
// summary and a text netlist.
func (r *RuleReviewer) Review(ctx context.Context, c *circuit.Circuit) (*circuit.Review, error) {
	if c == nil {
		return nil, fmt.Errorf("review: nil circuit")
	}
	rules := r.Rules.withDefaults()
	power, err := regexp.Compile(rules.PowerPinPattern)
	if err != nil {
		return nil, fmt.Errorf("review: power pin pattern: %w", err)
	}

	store, err := r.openStore()
	if err != nil {
		return nil, fmt.Errorf("review: open store: %w", err)
	}
	defer store.Close()

	if err := graph.Load(ctx, store, c); err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	rv := &reviewRun{ctx: ctx, store: store, c: c, rules: rules, power: power}
	for _, step := range []func() error{
		rv.floatingPins,
		rv.shorts,
		rv.decoupling,
		rv.overlaps,
		rv.congestion,
		rv.footprints,
	} {
		if err := step(); err != nil {
			return nil, fmt.Errorf("review: %w", err)
		}
	}

	out := &circuit.Review{
		Diagnostics:  rv.diags,
		Traceability: make(map[string]string, len(c.Components)),
	}
	if out.Diagnostics == nil {
		out.Diagnostics = []diagnostic.Diagnostic{}
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("review: stats: %w", err)
	}
	out.Connectivity = circuit.ConnectivitySummary{
		Nets:          stats.NetCount,
		ConnectedPins: stats.PinCount - len(rv.floating),
		FloatingPins:  rv.floating,
	}
	islands, err := graph.Islands(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}
	for _, is := range islands {
		out.Connectivity.Islands = append(out.Connectivity.Islands, is.Members)
	}
	out.Schematic, err = schematic(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("review: schematic: %w", err)
	}
	for _, comp := range c.Components {
		out.Traceability[comp.Name] = traceability(comp)
	}

	r.logger().Debug("review complete",
		"components", stats.ComponentCount,
		"nets", stats.NetCount,
		"islands", len(islands),
		"diagnostics", len(out.Diagnostics))
	return out, nil
}

func (r *RuleReviewer) openStore() (graph.Store, error) {
	if r.NewStore == nil {
		return graph.NewMemStore(), nil
	}
	return r.NewStore()
}

func (r *RuleReviewer) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

type reviewRun struct {
	ctx      context.Context
	store    graph.Store
	c        *circuit.Circuit
	rules    Rules
	power    *regexp.Regexp
	diags    []diagnostic.Diagnostic
	floating []string
}

func (rv *reviewRun) add(cat diagnostic.Category, msg string, opts ...diagnostic.Option) {
	opts = append([]diagnostic.Option{diagnostic.WithSource(diagnostic.SourceReviewer)}, opts...)
	rv.diags = append(rv.diags, diagnostic.New(cat, msg, opts...))
}

func (rv *reviewRun) floatingPins() error {
	ids, err := rv.store.FloatingPins(rv.ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		comp, pin, _ := strings.Cut(id, ".")
		if isNoConnect(rv.c, comp, pin) {
			continue
		}
		rv.floating = append(rv.floating, id)
		rv.add(diagnostic.CategoryPinFloating,
			fmt.Sprintf("pin %s is not connected to any net", id),
			diagnostic.WithTarget(diagnostic.Target{Component: comp, Pin: pin}),
			diagnostic.WithComponents(comp))
	}
	return nil
}

func isNoConnect(c *circuit.Circuit, comp, pin string) bool {
	cc, ok := c.Component(comp)
	if !ok {
		return false
	}
	p, ok := cc.Pin(pin)
	if !ok {
		return false
	}
	for _, name := range append([]string{p.Name}, p.Labels...) {
		if strings.EqualFold(name, "nc") || strings.HasPrefix(strings.ToUpper(name), "NC_") {
			return true
		}
	}
	return false
}

func (rv *reviewRun) shorts() error {
	for _, comp := range rv.c.Components {
		for _, pin := range comp.Pins {
			id := graph.PinID(comp.Name, pin.Name)
			nets, err := rv.store.NetsOfPin(rv.ctx, id)
			if err != nil {
				return err
			}
			if len(nets) < 2 {
				continue
			}
			rv.add(diagnostic.CategoryNetShort,
				fmt.Sprintf("pin %s shorts nets %s", id, strings.Join(nets, ", ")),
				diagnostic.WithTarget(diagnostic.Target{Component: comp.Name, Pin: pin.Name, Net: strings.Join(nets, "+")}),
				diagnostic.WithComponents(comp.Name))
		}
	}
	return nil
}

func (rv *reviewRun) decoupling() error {
	for _, comp := range rv.c.Components {
		if !strings.EqualFold(comp.Kind, "chip") {
			continue
		}
		for _, pin := range comp.Pins {
			label, ok := rv.powerName(pin)
			if !ok || pin.Net == "" {
				continue
			}
			onNet, err := rv.store.ComponentsOnNet(rv.ctx, pin.Net)
			if err != nil {
				return err
			}
			if rv.hasCapacitor(onNet) {
				continue
			}
			rv.add(diagnostic.CategoryMissingDecoupling,
				fmt.Sprintf("%s supply pin %s on net %s has no decoupling capacitor", comp.Name, label, pin.Net),
				diagnostic.WithTarget(diagnostic.Target{Component: comp.Name, Pin: label, Net: pin.Net}),
				diagnostic.WithComponents(comp.Name))
		}
	}
	return nil
}

func (rv *reviewRun) powerName(p circuit.Pin) (string, bool) {
	for _, l := range p.Labels {
		if rv.power.MatchString(l) {
			return l, true
		}
	}
	if rv.power.MatchString(p.Name) {
		return p.Name, true
	}
	return "", false
}

func (rv *reviewRun) hasCapacitor(names []string) bool {
	for _, n := range names {
		if c, ok := rv.c.Component(n); ok && strings.EqualFold(c.Kind, "capacitor") {
			return true
		}
	}
	return false
}

type box struct {
	name                   string
	minX, minY, maxX, maxY float64
}

func (rv *reviewRun) boxes() []box {
	var out []box
	for _, comp := range rv.c.Components {
		if !comp.HasPosition {
			continue
		}
		size, ok := footprintSizes[strings.ToLower(comp.Footprint)]
		if !ok {
			size = [2]float64{2, 2}
		}
		out = append(out, box{
			name: comp.Name,
			minX: comp.X - size[0]/2, maxX: comp.X + size[0]/2,
			minY: comp.Y - size[1]/2, maxY: comp.Y + size[1]/2,
		})
	}
	return out
}

func (rv *reviewRun) overlaps() error {
	bs := rv.boxes()
	for i := 0; i < len(bs); i++ {
		for j := i + 1; j < len(bs); j++ {
			a, b := bs[i], bs[j]
			if a.minX < b.maxX && b.minX < a.maxX && a.minY < b.maxY && b.minY < a.maxY {
				rv.add(diagnostic.CategoryComponentOverlap,
					fmt.Sprintf("%s overlaps %s", a.name, b.name),
					diagnostic.WithComponents(a.name, b.name),
					diagnostic.WithSubject(a.name+"/"+b.name))
			}
		}
	}
	return nil
}

func (rv *reviewRun) congestion() error {
	cells := make(map[[2]int][]string)
	var keys [][2]int
	for _, comp := range rv.c.Components {
		if !comp.HasPosition {
			continue
		}
		k := [2]int{
			int(math.Floor(comp.X / rv.rules.CellSize)),
			int(math.Floor(comp.Y / rv.rules.CellSize)),
		}
		if _, seen := cells[k]; !seen {
			keys = append(keys, k)
		}
		cells[k] = append(cells[k], comp.Name)
	}
	for _, k := range keys {
		names := cells[k]
		if len(names) <= rv.rules.CongestionLimit {
			continue
		}
		sort.Strings(names)
		rv.add(diagnostic.CategoryRoutingCongestion,
			fmt.Sprintf("%d components crowd one %gmm cell: %s", len(names), rv.rules.CellSize, strings.Join(names, ", ")),
			diagnostic.WithComponents(names...),
			diagnostic.WithSubject(fmt.Sprintf("cell(%d,%d)", k[0], k[1])))
	}
	return nil
}

func (rv *reviewRun) footprints() error {
	if rv.rules.SkipFootprintCheck {
		return nil
	}
	for _, comp := range rv.c.Components {
		if comp.Footprint != "" {
			continue
		}
		rv.add(diagnostic.CategoryMissingFootprint,
			fmt.Sprintf("%s %s has no footprint", comp.Kind, comp.Name),
			diagnostic.WithTarget(diagnostic.Target{Component: comp.Name}),
			diagnostic.WithComponents(comp.Name))
	}
	return nil
}

// schematic renders the netlist as text: one line per component followed by
// one line per net.
func schematic(ctx context.Context, store graph.Store) (string, error) {
	comps, err := store.Components(ctx)
	if err != nil {
		return "", err
	}
	nets, err := store.Nets(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("* netlist\n")
	for _, c := range comps {
		fp := c.Footprint
		if fp == "" {
			fp = "-"
		}
		fmt.Fprintf(&b, "%s %s %s\n", c.Name, c.Kind, fp)
	}
	for _, n := range nets {
		pins, err := store.PinsOnNet(ctx, n)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "NET %s: %s\n", n, strings.Join(pins, " "))
	}
	return b.String(), nil
}

func traceability(c circuit.Component) string {
	parts := []string{c.Kind}
	if c.Value != "" {
		parts = append(parts, c.Value)
	}
	if c.Footprint != "" {
		parts = append(parts, c.Footprint)
	}
	return strings.Join(parts, "/")
}
