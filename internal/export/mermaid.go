package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dusk-indust/circuitloop/internal/circuit"
	"github.com/dusk-indust/circuitloop/internal/graph"
)

// GenerateMermaid produces a Mermaid graph LR diagram from a netlist store.
// Components are boxes, nets are rounded nodes and each pin on a net
// becomes a labelled edge.
func GenerateMermaid(ctx context.Context, store graph.Store) (string, error) {
	comps, err := store.Components(ctx)
	if err != nil {
		return "", fmt.Errorf("export: get components: %w", err)
	}
	nets, err := store.Nets(ctx)
	if err != nil {
		return "", fmt.Errorf("export: get nets: %w", err)
	}

	// Mermaid identifiers must be alphanumeric.
	nodeIDs := make(map[string]string)
	nextID := 0
	getID := func(key string) string {
		if id, ok := nodeIDs[key]; ok {
			return id
		}
		id := fmt.Sprintf("N%d", nextID)
		nextID++
		nodeIDs[key] = id
		return id
	}

	var sb strings.Builder
	sb.WriteString("graph LR\n")

	for _, c := range comps {
		label := c.Name
		if c.Kind != "" {
			label += "<br/>" + c.Kind
		}
		sb.WriteString(fmt.Sprintf("  %s[\"%s\"]\n", getID("c:"+c.Name), label))
	}
	for _, n := range nets {
		sb.WriteString(fmt.Sprintf("  %s((\"%.40s\"))\n", getID("n:"+n), n))
	}

	for _, n := range nets {
		pins, err := store.PinsOnNet(ctx, n)
		if err != nil {
			return "", fmt.Errorf("export: pins on %s: %w", n, err)
		}
		sort.Strings(pins)
		for _, pinID := range pins {
			comp, pin, ok := strings.Cut(pinID, ".")
			if !ok {
				continue
			}
			sb.WriteString(fmt.Sprintf("  %s -- %s --- %s\n", getID("c:"+comp), pin, getID("n:"+n)))
		}
	}

	return sb.String(), nil
}

// Mermaid renders c through an in-memory netlist graph.
func Mermaid(ctx context.Context, c *circuit.Circuit) (string, error) {
	store := graph.NewMemStore()
	defer store.Close()
	if err := graph.Load(ctx, store, c); err != nil {
		return "", err
	}
	return GenerateMermaid(ctx, store)
}
