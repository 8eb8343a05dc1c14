// Package circuit defines the structured circuit representation and the
// collaborator contracts the convergence loop consumes: compilation, review
// and manufacturing preview.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dusk-indust/circuitloop/internal/diagnostic"
)

// Pin is one pin of a compiled component. Net is empty for floating pins.
type Pin struct {
	Name   string   `json:"name"`
	Labels []string `json:"labels,omitempty"`
	Net    string   `json:"net,omitempty"`
	// Nets lists every net the pin was resolved onto; more than one is a short.
	Nets []string `json:"nets,omitempty"`
}

// Component is one placed part.
type Component struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Footprint   string  `json:"footprint,omitempty"`
	Value       string  `json:"value,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	HasPosition bool    `json:"hasPosition"`
	Pins        []Pin   `json:"pins"`
}

// Pin returns the pin with the given name or label.
func (c Component) Pin(name string) (Pin, bool) {
	for _, p := range c.Pins {
		if p.Name == name {
			return p, true
		}
		for _, l := range p.Labels {
			if l == name {
				return p, true
			}
		}
	}
	return Pin{}, false
}

// Net is a named electrical net.
type Net struct {
	Name string `json:"name"`
	// Members are "<component>.<pin>" references in resolution order.
	Members []string `json:"members"`
}

// Trace is a resolved connection between two endpoints.
type Trace struct {
	From string `json:"from"`
	To   string `json:"to"`
	Net  string `json:"net"`
}

// Board is the board outline in millimetres.
type Board struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Circuit is the structured representation produced by a Compiler.
type Circuit struct {
	Components []Component `json:"components"`
	Nets       []Net       `json:"nets"`
	Traces     []Trace     `json:"traces"`
	Board      Board       `json:"board"`
}

// Component returns the named component.
func (c *Circuit) Component(name string) (Component, bool) {
	for _, comp := range c.Components {
		if comp.Name == name {
			return comp, true
		}
	}
	return Component{}, false
}

// NetNames returns the sorted net names.
func (c *Circuit) NetNames() []string {
	out := make([]string, 0, len(c.Nets))
	for _, n := range c.Nets {
		out = append(out, n.Name)
	}
	sort.Strings(out)
	return out
}

// TraceCountByNet returns the number of traces on each net.
func (c *Circuit) TraceCountByNet() map[string]int {
	out := make(map[string]int)
	for _, t := range c.Traces {
		out[t.Net]++
	}
	return out
}

// ---------------------------------------------------------------------------
// Collaborator contracts
// ---------------------------------------------------------------------------

// ErrUnavailable marks a collaborator that cannot be reached. The loop ends
// with an error outcome when it sees it, since retrying cannot produce a
// different diagnostic set.
var ErrUnavailable = errors.New("circuit: collaborator unavailable")

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(service string, err error) error {
	return fmt.Errorf("%s: %w: %w", service, ErrUnavailable, err)
}

// CompileError is a design error reported by the compiler. It is recorded
// as a compile-failure diagnostic rather than ending the loop.
type CompileError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile error at line %d: %s", e.Line, e.Message)
	}
	return "compile error: " + e.Message
}

// Request is one compile invocation.
type Request struct {
	Source     string `json:"source"`
	SessionDir string `json:"sessionDir,omitempty"`
}

// Compiler turns design source into a Circuit. It must be safe to call
// repeatedly with different source.
type Compiler interface {
	Compile(ctx context.Context, req Request) (*Circuit, error)
}

// ConnectivitySummary is the reviewer's connectivity overview.
type ConnectivitySummary struct {
	Nets          int      `json:"nets"`
	ConnectedPins int      `json:"connectedPins"`
	FloatingPins  []string `json:"floatingPins,omitempty"`
	// Islands groups components joined through nets. A well-formed board
	// usually has one.
	Islands [][]string `json:"islands,omitempty"`
}

// Review is the reviewer's verdict on one circuit.
type Review struct {
	Schematic    string                  `json:"schematic"`
	Diagnostics  []diagnostic.Diagnostic `json:"diagnostics"`
	Connectivity ConnectivitySummary     `json:"connectivity"`
	Traceability map[string]string       `json:"traceability,omitempty"`
}

// Reviewer validates a compiled circuit.
type Reviewer interface {
	Review(ctx context.Context, c *Circuit) (*Review, error)
}

// Preview is a read-only manufacturing artifact.
type Preview struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// Previewer generates manufacturing previews from a converged circuit.
type Previewer interface {
	Preview(ctx context.Context, c *Circuit) (*Preview, error)
}
