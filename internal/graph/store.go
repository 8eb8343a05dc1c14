// Package graph holds the netlist of a compiled circuit as a graph of
// components, pins and nets so reviewers can ask connectivity questions.
package graph

import (
	"context"
	"io"
)

// Store is the netlist graph backend.
// Implementations: MemStore (default, pure Go) and KuzuStore (cgo).
type Store interface {
	io.Closer

	// Schema setup; called once before any data is inserted.
	InitSchema(ctx context.Context) error

	// Write operations.
	AddComponent(ctx context.Context, node ComponentNode) error
	AddPin(ctx context.Context, node PinNode) error
	AddNet(ctx context.Context, node NetNode) error
	Connect(ctx context.Context, pinID, net string) error

	// Read operations. All results are sorted.
	Components(ctx context.Context) ([]ComponentNode, error)
	Nets(ctx context.Context) ([]string, error)
	ComponentsOnNet(ctx context.Context, net string) ([]string, error)
	PinsOnNet(ctx context.Context, net string) ([]string, error)
	NetsOfPin(ctx context.Context, pinID string) ([]string, error)
	FloatingPins(ctx context.Context) ([]string, error)

	// Stats.
	Stats(ctx context.Context) (*Stats, error)
}

// EdgeKind classifies relationships between nodes.
type EdgeKind string

const (
	EdgeKindHasPin EdgeKind = "HAS_PIN" // Component → Pin
	EdgeKindOnNet  EdgeKind = "ON_NET"  // Pin → Net
)

// ComponentNode is a placed part.
type ComponentNode struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Footprint string  `json:"footprint,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Placed    bool    `json:"placed"`
}

// PinNode is one pin of a component. Its ID is "<component>.<pin>".
type PinNode struct {
	Component string `json:"component"`
	Name      string `json:"name"`
}

// ID returns the pin's graph identifier.
func (p PinNode) ID() string {
	return PinID(p.Component, p.Name)
}

// PinID builds the identifier of a pin.
func PinID(component, pin string) string {
	return component + "." + pin
}

// NetNode is a named net.
type NetNode struct {
	Name string `json:"name"`
}

// Stats summarizes a netlist graph.
type Stats struct {
	ComponentCount  int `json:"componentCount"`
	PinCount        int `json:"pinCount"`
	NetCount        int `json:"netCount"`
	ConnectionCount int `json:"connectionCount"` // ON_NET edges
}
