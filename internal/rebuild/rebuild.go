// Package rebuild derives canonical trace statements from the net intent
// each component declares in its connections map.
package rebuild

import (
	"fmt"

	"github.com/dusk-indust/circuitloop/internal/source"
)

// ReasonNoNetIntent is reported when no component declares any net intent.
const ReasonNoNetIntent = "no component declares net intent in its connections map"

// TraceStatement is one synthesized trace.
type TraceStatement struct {
	Net  string `json:"net"`
	From string `json:"from"`
	To   string `json:"to"`
}

// String renders the statement in design-source form.
func (t TraceStatement) String() string {
	return fmt.Sprintf("<trace from=%q to=%q />", t.From, t.To)
}

// Result is the rebuilder output. Reason is non-empty only when no net
// intent could be extracted, telling the caller to fall back to another
// strategy.
type Result struct {
	Traces []TraceStatement `json:"traces"`
	Reason string           `json:"reason,omitempty"`
}

// Statements renders every trace in order.
func (r Result) Statements() []string {
	out := make([]string, len(r.Traces))
	for i, t := range r.Traces {
		out[i] = t.String()
	}
	return out
}

type member struct {
	component string
	pin       string
}

// Rebuild synthesizes traces from net intent. For each net shared by two or
// more components it chains their endpoints in component declaration order,
// so k endpoints yield k-1 traces. A component listing several pins on one
// net contributes its first pin. Nets are emitted in order of first
// appearance; identical input always yields identical output.
func Rebuild(text string) Result {
	doc := source.Parse(text)

	var order []string
	members := make(map[string][]member)
	seen := make(map[string]map[string]bool) // net → component

	for _, c := range doc.Components() {
		for _, in := range c.NetIntents() {
			if _, ok := members[in.Net]; !ok {
				order = append(order, in.Net)
				seen[in.Net] = make(map[string]bool)
			}
			if seen[in.Net][c.Name] {
				continue
			}
			seen[in.Net][c.Name] = true
			members[in.Net] = append(members[in.Net], member{component: c.Name, pin: in.Pin})
		}
	}

	if len(order) == 0 {
		return Result{Reason: ReasonNoNetIntent}
	}

	res := Result{Traces: []TraceStatement{}}
	for _, net := range order {
		ms := members[net]
		for i := 1; i < len(ms); i++ {
			res.Traces = append(res.Traces, TraceStatement{
				Net:  net,
				From: source.PinSelector(ms[i-1].component, ms[i-1].pin),
				To:   source.PinSelector(ms[i].component, ms[i].pin),
			})
		}
	}
	return res
}
