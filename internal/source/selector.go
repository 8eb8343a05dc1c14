package source

import (
	"fmt"
	"strings"
)

// NetPrefix marks an endpoint that refers to a named net instead of a pin.
const NetPrefix = "net."

// Endpoint is a parsed trace endpoint reference.
type Endpoint struct {
	Raw       string
	IsNet     bool
	Net       string
	Component string
	Pin       string
}

// String renders the endpoint in canonical form.
func (e Endpoint) String() string {
	if e.IsNet {
		return NetPrefix + e.Net
	}
	return PinSelector(e.Component, e.Pin)
}

// PinSelector returns the canonical "<component> > <pin>" selector.
func PinSelector(component, pin string) string {
	return fmt.Sprintf(".%s > .%s", component, pin)
}

// SelectorError reports an endpoint reference that does not match the
// "<component-selector> > <pin-selector>" shape.
type SelectorError struct {
	Ref    string
	Reason string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("invalid selector %q: %s", e.Ref, e.Reason)
}

// ParseEndpoint parses a trace endpoint. Net references ("net.GND") are always
// accepted as long as the net name is well formed.
func ParseEndpoint(ref string) (Endpoint, error) {
	raw := ref
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Endpoint{Raw: raw}, &SelectorError{Ref: raw, Reason: "empty reference"}
	}

	if strings.HasPrefix(ref, NetPrefix) {
		name := ref[len(NetPrefix):]
		if name == "" || strings.ContainsAny(name, " \t>") {
			return Endpoint{Raw: raw}, &SelectorError{Ref: raw, Reason: "malformed net name"}
		}
		return Endpoint{Raw: raw, IsNet: true, Net: name}, nil
	}

	left, right, ok := strings.Cut(ref, ">")
	if !ok {
		return Endpoint{Raw: raw}, &SelectorError{Ref: raw, Reason: "missing '>' between component and pin selectors"}
	}
	if strings.Contains(right, ">") {
		return Endpoint{Raw: raw}, &SelectorError{Ref: raw, Reason: "more than one '>' separator"}
	}

	comp, err := simpleSelector(left)
	if err != nil {
		return Endpoint{Raw: raw}, &SelectorError{Ref: raw, Reason: "component selector " + err.Error()}
	}
	pin, err := simpleSelector(right)
	if err != nil {
		return Endpoint{Raw: raw}, &SelectorError{Ref: raw, Reason: "pin selector " + err.Error()}
	}
	return Endpoint{Raw: raw, Component: comp, Pin: pin}, nil
}

// simpleSelector validates ".name" and returns name.
func simpleSelector(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("is empty")
	}
	if s[0] != '.' {
		return "", fmt.Errorf("%q must start with '.'", s)
	}
	name := s[1:]
	if name == "" {
		return "", fmt.Errorf("%q has no name", s)
	}
	if strings.ContainsAny(name, " \t.") {
		return "", fmt.Errorf("%q contains whitespace or a nested selector", s)
	}
	return name, nil
}
