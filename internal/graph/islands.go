package graph

import (
	"context"
	"fmt"
	"sort"
)

// Island is a set of components joined to each other through nets.
type Island struct {
	// Members are component names, sorted.
	Members []string `json:"members"`
	// Nets are the nets internal to the island, sorted.
	Nets []string `json:"nets"`
}

// Islands finds the connected components of the component-to-component
// graph, where two components are adjacent when they share a net.
// Components on no net form single-member islands. Islands are ordered by
// their first member.
func Islands(ctx context.Context, store Store) ([]Island, error) {
	comps, err := store.Components(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: islands: %w", err)
	}
	adj, netsOf, err := buildAdjacency(ctx, store, comps)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]bool, len(comps))
	var out []Island
	for _, c := range comps {
		if visited[c.Name] {
			continue
		}
		members := bfsComponent(c.Name, adj, visited)
		sort.Strings(members)

		nets := make(map[string]bool)
		for _, m := range members {
			for _, n := range netsOf[m] {
				nets[n] = true
			}
		}
		out = append(out, Island{Members: members, Nets: sortedKeys(nets)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Members[0] < out[j].Members[0] })
	return out, nil
}

// buildAdjacency links every pair of components found on the same net in
// one pass over the nets.
func buildAdjacency(ctx context.Context, store Store, comps []ComponentNode) (map[string]map[string]bool, map[string][]string, error) {
	adj := make(map[string]map[string]bool, len(comps))
	for _, c := range comps {
		adj[c.Name] = make(map[string]bool)
	}
	netsOf := make(map[string][]string)

	nets, err := store.Nets(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("graph: islands: %w", err)
	}
	for _, n := range nets {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		on, err := store.ComponentsOnNet(ctx, n)
		if err != nil {
			return nil, nil, fmt.Errorf("graph: islands: components on %s: %w", n, err)
		}
		for i, a := range on {
			if adj[a] == nil {
				continue
			}
			netsOf[a] = append(netsOf[a], n)
			for _, b := range on[i+1:] {
				if adj[b] == nil || a == b {
					continue
				}
				adj[a][b] = true
				adj[b][a] = true
			}
		}
	}
	return adj, netsOf, nil
}

// bfsComponent performs BFS from start and returns every reachable node,
// marking them visited.
func bfsComponent(start string, adj map[string]map[string]bool, visited map[string]bool) []string {
	var component []string
	queue := []string{start}
	visited[start] = true

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		component = append(component, node)
		for neighbor := range adj[node] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	return component
}
