//go:build !cgo

package main

import (
	"fmt"

	"github.com/dusk-indust/circuitloop/internal/graph"
)

func openGraphStore(kind, _ string) (graph.Store, error) {
	switch kind {
	case "", "mem":
		return graph.NewMemStore(), nil
	case "kuzu":
		return nil, fmt.Errorf("diagram: kuzu store requires a cgo build")
	default:
		return nil, fmt.Errorf("diagram: unknown store %q", kind)
	}
}
