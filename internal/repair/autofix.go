package repair

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/source"
)

// autoFix applies the in-place corrections for auto-fixable diagnostics.
func autoFix(c *change, opts Options, diags []diagnostic.Diagnostic) {
	comps := c.doc.ComponentIndex()
	taken := make(map[string]bool, len(comps))
	for name := range comps {
		taken[name] = true
	}
	done := make(map[string]bool)

	for _, d := range diags {
		if d.Handling != diagnostic.HandlingAutoFixable {
			continue
		}
		key := d.Signature
		if done[key] {
			continue
		}
		done[key] = true

		switch d.Family {
		case diagnostic.FamilyMissingDecoupling:
			insertDecoupling(c, opts, d.Target, comps, taken)
		case diagnostic.FamilyMissingFootprint:
			setFootprint(c, opts, d.Target.Component, comps)
		default:
			c.act(ActionSkip, d.Signature, "no automatic fix for family %s", d.Family)
		}
	}
}

// insertDecoupling adds a capacitor between the target's supply net and
// ground together with the two traces that attach it.
func insertDecoupling(c *change, opts Options, t diagnostic.Target, comps map[string]source.Component, taken map[string]bool) {
	comp, ok := comps[t.Component]
	if !ok || (t.Pin == "" && t.Net == "") {
		c.act(ActionSkip, t.Component, "decoupling target has no known component or supply")
		return
	}

	net := t.Net
	if net == "" {
		for _, in := range comp.NetIntents() {
			if strings.EqualFold(in.Pin, t.Pin) {
				net = in.Net
				break
			}
		}
	}

	name := uniqueName("C_DEC_"+comp.Name, taken)
	var conns []string
	if net != "" {
		conns = append(conns, fmt.Sprintf("pin1: %q", source.NetPrefix+net))
	}
	conns = append(conns, fmt.Sprintf("pin2: %q", source.NetPrefix+opts.GroundNet))

	c.lines = append(c.lines, fmt.Sprintf(`<capacitor name=%q capacitance=%q footprint=%q connections={{ %s }} />`,
		name, opts.DecouplingValue, opts.DecouplingFootprint, strings.Join(conns, ", ")))
	c.act(ActionInsertComponent, name, "%s decoupling capacitor for %s", opts.DecouplingValue, comp.Name)

	supply := source.NetPrefix + net
	if t.Pin != "" {
		supply = source.PinSelector(comp.Name, t.Pin)
	}
	for _, tr := range [][2]string{
		{source.PinSelector(name, "pin1"), supply},
		{source.PinSelector(name, "pin2"), source.NetPrefix + opts.GroundNet},
	} {
		c.lines = append(c.lines, fmt.Sprintf("<trace from=%q to=%q />", tr[0], tr[1]))
		c.act(ActionInsertTrace, tr[0]+" -> "+tr[1], "decoupling connection")
	}
}

func setFootprint(c *change, opts Options, name string, comps map[string]source.Component) {
	comp, ok := comps[name]
	if !ok {
		c.act(ActionSkip, name, "component not declared")
		return
	}
	fp, ok := opts.Footprints[strings.ToLower(comp.Kind)]
	if !ok {
		c.act(ActionSkip, name, "no default footprint for kind %s", comp.Kind)
		return
	}
	c.edits = append(c.edits, c.doc.SetAttr(comp.Element, "footprint", fmt.Sprintf("%q", fp)))
	c.act(ActionSetFootprint, name, "assigned default %s footprint %s", comp.Kind, fp)
}

func uniqueName(base string, taken map[string]bool) string {
	name := base
	for i := 2; taken[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	taken[name] = true
	return name
}
