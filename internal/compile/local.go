// Package compile provides an in-process structural compiler that resolves
// design source into a circuit.Circuit without an external toolchain.
package compile

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/source"
)

// Local compiles design source in process. It resolves pins from labels,
// kind aliases and connection maps, and nets from connections and traces.
type Local struct{}

var _ circuit.Compiler = (*Local)(nil)

// Compile implements circuit.Compiler. Design defects that prevent
// resolution are returned as *circuit.CompileError.
func (Local) Compile(ctx context.Context, req circuit.Request) (*circuit.Circuit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := source.Parse(req.Source)
	if len(doc.Problems) > 0 {
		p := doc.Problems[0]
		return nil, &circuit.CompileError{Message: p.Message, Line: p.Line}
	}

	b := newBuilder()
	b.board(doc)

	for _, c := range doc.Components() {
		if _, dup := b.comps[c.Name]; dup {
			return nil, &circuit.CompileError{
				Message: fmt.Sprintf("component %s declared more than once", c.Name),
				Line:    c.Element.Line,
			}
		}
		b.declare(c)
	}

	for _, c := range doc.Components() {
		for _, in := range c.NetIntents() {
			pin := b.resolve(c.Name, in.Pin, true)
			b.attach(pin, in.Net)
		}
	}

	for _, tr := range doc.Traces() {
		if !tr.Complete() {
			return nil, &circuit.CompileError{
				Message: fmt.Sprintf("trace %s does not name two endpoints", tr.Describe()),
				Line:    tr.Line,
			}
		}
		refs := tr.Endpoints()
		for i := 1; i < len(refs); i++ {
			if err := b.connect(refs[i-1], refs[i]); err != nil {
				return nil, &circuit.CompileError{Message: err.Error(), Line: tr.Line}
			}
		}
	}

	return b.circuit(), nil
}

type pinRef struct {
	comp string
	idx  int
}

type builder struct {
	out      *circuit.Circuit
	comps    map[string]int // name → index in out.Components
	kinds    map[string]string
	nets     map[string]int // name → index in out.Nets
	autoNets int
}

func newBuilder() *builder {
	return &builder{
		out:   &circuit.Circuit{Components: []circuit.Component{}, Nets: []circuit.Net{}, Traces: []circuit.Trace{}},
		comps: make(map[string]int),
		kinds: make(map[string]string),
		nets:  make(map[string]int),
	}
}

func (b *builder) board(doc *source.Document) {
	for _, el := range doc.Elements {
		if el.Tag != "board" {
			continue
		}
		if a, ok := el.Attr("width"); ok {
			b.out.Board.Width, _ = source.ParseLength(a.Text())
		}
		if a, ok := el.Attr("height"); ok {
			b.out.Board.Height, _ = source.ParseLength(a.Text())
		}
		return
	}
}

func (b *builder) declare(c source.Component) {
	comp := circuit.Component{
		Name:      c.Name,
		Kind:      c.Kind,
		Footprint: c.Footprint(),
		Value:     c.Value(),
		Pins:      []circuit.Pin{},
	}
	comp.X, comp.Y, comp.HasPosition = c.Position()

	for _, p := range c.PinLabels {
		comp.Pins = append(comp.Pins, circuit.Pin{Name: p.Key, Labels: append([]string(nil), p.Values...)})
	}
	for _, name := range source.NumberedPins(c.Kind) {
		if _, ok := findPin(comp, c.Kind, name); !ok {
			comp.Pins = append(comp.Pins, circuit.Pin{Name: name})
		}
	}

	b.comps[c.Name] = len(b.out.Components)
	b.kinds[c.Name] = c.Kind
	b.out.Components = append(b.out.Components, comp)
}

func findPin(comp circuit.Component, kind, name string) (int, bool) {
	canon := source.CanonicalPin(kind, name)
	for i, p := range comp.Pins {
		if strings.EqualFold(p.Name, name) || strings.EqualFold(p.Name, canon) {
			return i, true
		}
		for _, l := range p.Labels {
			if strings.EqualFold(l, name) {
				return i, true
			}
		}
	}
	return 0, false
}

// resolve returns the pin of comp addressed by name. Unknown pins are added
// when create is true or when the component declares no pins at all.
func (b *builder) resolve(comp, name string, create bool) *pinRef {
	ci, ok := b.comps[comp]
	if !ok {
		return nil
	}
	c := &b.out.Components[ci]
	if i, ok := findPin(*c, b.kinds[comp], name); ok {
		return &pinRef{comp: comp, idx: i}
	}
	if !create && len(c.Pins) > 0 {
		return nil
	}
	c.Pins = append(c.Pins, circuit.Pin{Name: name})
	return &pinRef{comp: comp, idx: len(c.Pins) - 1}
}

func (b *builder) pin(r *pinRef) *circuit.Pin {
	return &b.out.Components[b.comps[r.comp]].Pins[r.idx]
}

func (b *builder) attach(r *pinRef, net string) {
	p := b.pin(r)
	for _, n := range p.Nets {
		if n == net {
			return
		}
	}
	p.Nets = append(p.Nets, net)
	if p.Net == "" {
		p.Net = net
	}

	ni, ok := b.nets[net]
	if !ok {
		ni = len(b.out.Nets)
		b.nets[net] = ni
		b.out.Nets = append(b.out.Nets, circuit.Net{Name: net})
	}
	b.out.Nets[ni].Members = append(b.out.Nets[ni].Members, r.comp+"."+p.Name)
}

type endpoint struct {
	net string
	pin *pinRef
}

func (b *builder) endpoint(ref string) (endpoint, error) {
	ep, err := source.ParseEndpoint(ref)
	if err != nil {
		return endpoint{}, err
	}
	if ep.IsNet {
		return endpoint{net: ep.Net}, nil
	}
	if _, ok := b.comps[ep.Component]; !ok {
		return endpoint{}, fmt.Errorf("unknown component %s in %q", ep.Component, ref)
	}
	r := b.resolve(ep.Component, ep.Pin, false)
	if r == nil {
		return endpoint{}, fmt.Errorf("unknown pin %s on %s in %q", ep.Pin, ep.Component, ref)
	}
	return endpoint{pin: r}, nil
}

func (b *builder) connect(fromRef, toRef string) error {
	from, err := b.endpoint(fromRef)
	if err != nil {
		return err
	}
	to, err := b.endpoint(toRef)
	if err != nil {
		return err
	}

	var net string
	switch {
	case from.net != "" && to.net != "":
		net = from.net
		b.ensureNet(to.net)
	case from.net != "":
		net = from.net
	case to.net != "":
		net = to.net
	default:
		if n := b.pin(from.pin).Net; n != "" {
			net = n
		} else if n := b.pin(to.pin).Net; n != "" {
			net = n
		} else {
			b.autoNets++
			net = fmt.Sprintf("N$%d", b.autoNets)
		}
	}
	b.ensureNet(net)

	for _, e := range []endpoint{from, to} {
		if e.pin != nil {
			b.attach(e.pin, net)
		}
	}
	b.out.Traces = append(b.out.Traces, circuit.Trace{From: fromRef, To: toRef, Net: net})
	return nil
}

func (b *builder) ensureNet(net string) {
	if _, ok := b.nets[net]; ok {
		return
	}
	b.nets[net] = len(b.out.Nets)
	b.out.Nets = append(b.out.Nets, circuit.Net{Name: net})
}

func (b *builder) circuit() *circuit.Circuit {
	return b.out
}
