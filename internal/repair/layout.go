package repair

import (
	"fmt"
	"math"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
	"github.com/dusk-indust/circuitloop/internal/source"
)

type point struct{ x, y float64 }

func (p point) key() string {
	return fmt.Sprintf("%.3f,%.3f", p.x, p.y)
}

// spreadLayout scales every placement away from the origin. Components
// without coordinates get a free grid slot below the placed ones, and
// components that would share a position are nudged apart.
func spreadLayout(c *change, opts Options) {
	comps := c.doc.Components()
	occupied := make(map[string]bool, len(comps))
	minY := 0.0
	for _, comp := range comps {
		if _, y, ok := comp.Position(); ok {
			minY = math.Min(minY, y*opts.SpreadFactor)
		}
	}

	slot := 0
	for _, comp := range comps {
		var p point
		if x, y, ok := comp.Position(); ok {
			p = point{round(x * opts.SpreadFactor), round(y * opts.SpreadFactor)}
		} else {
			p = point{round(float64(slot) * opts.GridPitch), round(minY - opts.GridPitch)}
			slot++
		}
		for occupied[p.key()] {
			p.x = round(p.x + opts.GridPitch)
		}
		occupied[p.key()] = true
		place(c, comp, p)
	}
}

// relieveCongestion moves only the components named by congestion
// diagnostics, pushing each away from the centroid of all placements.
func relieveCongestion(c *change, opts Options, diags []diagnostic.Diagnostic) {
	affected := make(map[string]bool)
	for _, d := range diags {
		if d.Family != diagnostic.FamilyRoutingCongestion {
			continue
		}
		for _, ref := range d.Components {
			affected[ref] = true
		}
		if d.Target.Component != "" {
			affected[d.Target.Component] = true
		}
	}
	if len(affected) == 0 {
		c.act(ActionSkip, "", "congestion diagnostics name no components")
		return
	}

	comps := c.doc.Components()
	var centroid point
	placed := 0
	for _, comp := range comps {
		if x, y, ok := comp.Position(); ok {
			centroid.x += x
			centroid.y += y
			placed++
		}
	}
	if placed > 0 {
		centroid.x /= float64(placed)
		centroid.y /= float64(placed)
	}

	for i, comp := range comps {
		if !affected[comp.Name] {
			continue
		}
		x, y, ok := comp.Position()
		if !ok {
			c.act(ActionSkip, comp.Name, "no placement to adjust")
			continue
		}
		dx, dy := x-centroid.x, y-centroid.y
		dist := math.Hypot(dx, dy)
		if dist < 1e-9 {
			// Fan out components sitting on the centroid.
			angle := float64(i) * 2 * math.Pi / float64(len(comps))
			dx, dy, dist = math.Cos(angle), math.Sin(angle), 1
		}
		place(c, comp, point{
			x: round(x + dx/dist*opts.ReliefStep),
			y: round(y + dy/dist*opts.ReliefStep),
		})
	}
}

func place(c *change, comp source.Component, p point) {
	c.edits = append(c.edits,
		c.doc.SetAttr(comp.Element, "pcbX", "{"+source.FormatLength(p.x)+"}"),
		c.doc.SetAttr(comp.Element, "pcbY", "{"+source.FormatLength(p.y)+"}"))
	c.act(ActionMoveComponent, comp.Name, "placed at (%s, %s)", source.FormatLength(p.x), source.FormatLength(p.y))
}

func round(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}
