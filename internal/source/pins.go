package source

import "strings"

// implicitPins lists pin aliases every component of a kind exposes whether or
// not they appear in an explicit pinLabels map.
var implicitPins = map[string][]string{
	"led":        {"anode", "cathode", "pos", "neg", "pin1", "pin2", "left", "right"},
	"diode":      {"anode", "cathode", "pos", "neg", "pin1", "pin2", "left", "right"},
	"resistor":   {"pin1", "pin2", "left", "right"},
	"inductor":   {"pin1", "pin2", "left", "right"},
	"fuse":       {"pin1", "pin2", "left", "right"},
	"capacitor":  {"pin1", "pin2", "left", "right", "pos", "neg", "anode", "cathode"},
	"crystal":    {"pin1", "pin2", "left", "right"},
	"battery":    {"pin1", "pin2", "pos", "neg", "anode", "cathode"},
	"transistor": {"base", "collector", "emitter", "gate", "drain", "source", "pin1", "pin2", "pin3"},
	"mosfet":     {"gate", "drain", "source", "pin1", "pin2", "pin3"},
	"pushbutton": {"pin1", "pin2", "pin3", "pin4"},
	"switch":     {"pin1", "pin2", "pin3"},
	"testpoint":  {"pin1"},
}

// twoTerminal kinds whose pins are numbered pin1/pin2.
var twoTerminal = map[string]bool{
	"led": true, "diode": true, "resistor": true, "inductor": true,
	"fuse": true, "capacitor": true, "crystal": true, "battery": true,
}

// ImplicitPins returns the alias pins of a component kind.
func ImplicitPins(kind string) []string {
	return implicitPins[strings.ToLower(kind)]
}

// IsTwoTerminal reports whether kind is a two-terminal part.
func IsTwoTerminal(kind string) bool {
	return twoTerminal[strings.ToLower(kind)]
}

// canonicalPins maps alias pins of a kind onto its numbered pins.
var canonicalPins = map[string]map[string]string{
	"polarized": {
		"anode": "pin1", "pos": "pin1", "left": "pin1",
		"cathode": "pin2", "neg": "pin2", "right": "pin2",
	},
	"transistor": {
		"base": "pin1", "gate": "pin1",
		"collector": "pin2", "drain": "pin2",
		"emitter": "pin3", "source": "pin3",
	},
}

// CanonicalPin maps an alias pin of kind to its numbered name, so that
// ".D1 > .anode" and ".D1 > .pin1" address the same pin. Names without an
// alias are returned unchanged.
func CanonicalPin(kind, pin string) string {
	kind = strings.ToLower(kind)
	table := canonicalPins["transistor"]
	if twoTerminal[kind] {
		table = canonicalPins["polarized"]
	} else if kind != "transistor" && kind != "mosfet" {
		return pin
	}
	if c, ok := table[strings.ToLower(pin)]; ok {
		return c
	}
	return pin
}

// NumberedPins returns the distinct numbered pins of kind, in order.
func NumberedPins(kind string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range ImplicitPins(kind) {
		c := CanonicalPin(kind, p)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
