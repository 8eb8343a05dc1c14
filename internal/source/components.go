package source

import (
	"strconv"
	"strings"
)

// nonComponentTags are elements that may carry a name but never declare a
// part with pins.
var nonComponentTags = map[string]bool{
	"trace": true, "board": true, "group": true, "subcircuit": true,
	"net": true, "netlabel": true, "via": true,
}

// valueAttrs are the attributes that carry a component's electrical value,
// in lookup order.
var valueAttrs = []string{"resistance", "capacitance", "inductance", "frequency", "voltage", "value"}

// Component is a declared part.
type Component struct {
	Name        string
	Kind        string
	Index       int // declaration order among components
	Element     Element
	PinLabels   []Pair
	Connections []Pair
}

// NetIntent is one entry of a component's connections map.
type NetIntent struct {
	Pin string
	Net string // without the "net." prefix
}

// Components returns the declared components in declaration order.
func (d *Document) Components() []Component {
	var out []Component
	for _, el := range d.Elements {
		if nonComponentTags[strings.ToLower(el.Tag)] {
			continue
		}
		name, ok := el.Attr("name")
		if !ok || name.Text() == "" {
			continue
		}
		c := Component{
			Name:    name.Text(),
			Kind:    el.Tag,
			Index:   len(out),
			Element: el,
		}
		if a, ok := el.Attr("pinLabels"); ok && a.Kind == AttrExpr {
			c.PinLabels, _ = ParseObject(a.Value)
		}
		if a, ok := el.Attr("connections"); ok && a.Kind == AttrExpr {
			c.Connections, _ = ParseObject(a.Value)
		}
		out = append(out, c)
	}
	return out
}

// ComponentIndex returns components keyed by name.
func (d *Document) ComponentIndex() map[string]Component {
	comps := d.Components()
	idx := make(map[string]Component, len(comps))
	for _, c := range comps {
		if _, dup := idx[c.Name]; !dup {
			idx[c.Name] = c
		}
	}
	return idx
}

// NetIntents returns the component's pin → net declarations in order.
// Values that are not net references are ignored.
func (c Component) NetIntents() []NetIntent {
	var out []NetIntent
	for _, p := range c.Connections {
		if len(p.Values) == 0 {
			continue
		}
		net := strings.TrimSpace(p.Values[0])
		if !strings.HasPrefix(net, NetPrefix) {
			continue
		}
		net = strings.TrimPrefix(net, NetPrefix)
		if net == "" {
			continue
		}
		out = append(out, NetIntent{Pin: p.Key, Net: net})
	}
	return out
}

// KnownPins returns the lower-cased set of pin names the component is known
// to expose. knowable is false when neither the kind nor the declaration
// lists any pins, in which case no pin reference can be judged unknown.
func (c Component) KnownPins() (pins map[string]bool, knowable bool) {
	pins = make(map[string]bool)
	for _, p := range ImplicitPins(c.Kind) {
		pins[strings.ToLower(p)] = true
	}
	for _, p := range c.PinLabels {
		pins[strings.ToLower(p.Key)] = true
		for _, v := range p.Values {
			pins[strings.ToLower(v)] = true
		}
	}
	for _, p := range c.Connections {
		pins[strings.ToLower(p.Key)] = true
	}
	return pins, len(pins) > 0
}

// HasPin reports whether pin is known for the component. ok is false when the
// component's pins cannot be determined.
func (c Component) HasPin(pin string) (has bool, ok bool) {
	pins, knowable := c.KnownPins()
	if !knowable {
		return false, false
	}
	return pins[strings.ToLower(pin)], true
}

// PinOrder returns the component's explicitly named pins in declaration
// order: pinLabels keys and labels first, then connection keys.
func (c Component) PinOrder() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, p := range c.PinLabels {
		add(p.Key)
		for _, v := range p.Values {
			add(v)
		}
	}
	for _, p := range c.Connections {
		add(p.Key)
	}
	return out
}

// Value returns the component's electrical value attribute, if any.
func (c Component) Value() string {
	for _, name := range valueAttrs {
		if a, ok := c.Element.Attr(name); ok {
			return a.Text()
		}
	}
	return ""
}

// Footprint returns the declared footprint, if any.
func (c Component) Footprint() string {
	if a, ok := c.Element.Attr("footprint"); ok {
		return a.Text()
	}
	return ""
}

// Position returns the pcbX/pcbY placement in millimetres.
func (c Component) Position() (x, y float64, ok bool) {
	ax, okx := c.Element.Attr("pcbX")
	ay, oky := c.Element.Attr("pcbY")
	if !okx || !oky {
		return 0, 0, false
	}
	x, errx := ParseLength(ax.Text())
	y, erry := ParseLength(ay.Text())
	if errx != nil || erry != nil {
		return 0, 0, false
	}
	return x, y, true
}

// ParseLength parses a millimetre length such as "2.5", "2.5mm" or "-1".
func ParseLength(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "mm")
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// FormatLength renders a millimetre length the way the design dialect
// writes numeric props.
func FormatLength(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Trace is a trace declaration.
type Trace struct {
	Element Element
	From    string
	To      string
	HasFrom bool
	HasTo   bool
	Path    []string
	HasPath bool
	Line    int
}

// Traces returns trace declarations in order.
func (d *Document) Traces() []Trace {
	var out []Trace
	for _, el := range d.Elements {
		if el.Tag != "trace" {
			continue
		}
		t := Trace{Element: el, Line: el.Line}
		if a, ok := el.Attr("from"); ok {
			t.From = a.Text()
			t.HasFrom = strings.TrimSpace(t.From) != ""
		}
		if a, ok := el.Attr("to"); ok {
			t.To = a.Text()
			t.HasTo = strings.TrimSpace(t.To) != ""
		}
		if a, ok := el.Attr("path"); ok && a.Kind == AttrExpr {
			t.HasPath = true
			t.Path = ParseStringArray(a.Value)
		}
		out = append(out, t)
	}
	return out
}

// Endpoints returns the endpoint references present on the trace, in order.
func (t Trace) Endpoints() []string {
	if t.HasPath {
		return t.Path
	}
	var out []string
	if t.HasFrom {
		out = append(out, t.From)
	}
	if t.HasTo {
		out = append(out, t.To)
	}
	return out
}

// Complete reports whether the trace names both of its endpoints.
func (t Trace) Complete() bool {
	if t.HasPath {
		return len(t.Path) >= 2
	}
	return t.HasFrom && t.HasTo
}

// Describe renders a stable, position-independent description of the trace.
func (t Trace) Describe() string {
	if t.HasPath {
		return "path=[" + strings.Join(t.Path, ", ") + "]"
	}
	return "from=" + strconv.Quote(t.From) + " to=" + strconv.Quote(t.To)
}

// ParseStringArray parses a literal array of strings such as
// ["a", 'b']. Non-string elements are ignored.
func ParseStringArray(expr string) []string {
	p := &objParser{src: strings.TrimSpace(expr)}
	if p.pos >= len(p.src) || p.src[p.pos] != '[' {
		return nil
	}
	vals, _ := p.array()
	return vals
}
