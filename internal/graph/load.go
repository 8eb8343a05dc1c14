package graph

import (
	"context"
	"fmt"

	"github.com/dusk-indust/circuitloop/internal/circuit"
)

// Load populates store with the netlist of c. The schema is initialised
// first; store is expected to be empty.
func Load(ctx context.Context, store Store, c *circuit.Circuit) error {
	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("graph: load: %w", err)
	}

	for _, n := range c.Nets {
		if err := store.AddNet(ctx, NetNode{Name: n.Name}); err != nil {
			return fmt.Errorf("graph: load net %s: %w", n.Name, err)
		}
	}

	for _, comp := range c.Components {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.AddComponent(ctx, ComponentNode{
			Name:      comp.Name,
			Kind:      comp.Kind,
			Footprint: comp.Footprint,
			X:         comp.X,
			Y:         comp.Y,
			Placed:    comp.HasPosition,
		}); err != nil {
			return fmt.Errorf("graph: load component %s: %w", comp.Name, err)
		}

		for _, pin := range comp.Pins {
			node := PinNode{Component: comp.Name, Name: pin.Name}
			if err := store.AddPin(ctx, node); err != nil {
				return fmt.Errorf("graph: load pin %s: %w", node.ID(), err)
			}
			nets := pin.Nets
			if len(nets) == 0 && pin.Net != "" {
				nets = []string{pin.Net}
			}
			for _, net := range nets {
				if err := store.AddNet(ctx, NetNode{Name: net}); err != nil {
					return fmt.Errorf("graph: load net %s: %w", net, err)
				}
				if err := store.Connect(ctx, node.ID(), net); err != nil {
					return fmt.Errorf("graph: connect %s to %s: %w", node.ID(), net, err)
				}
			}
		}
	}
	return nil
}
