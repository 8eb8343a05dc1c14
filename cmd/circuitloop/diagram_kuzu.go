//go:build cgo

package main

import (
	"fmt"

	"github.com/dusk-indust/circuitloop/internal/graph"
)

func openGraphStore(kind, path string) (graph.Store, error) {
	switch kind {
	case "", "mem":
		return graph.NewMemStore(), nil
	case "kuzu":
		var (
			ks  *graph.KuzuStore
			err error
		)
		if path == "" {
			ks, err = graph.NewKuzuStore()
		} else {
			ks, err = graph.NewKuzuFileStore(path)
		}
		if err != nil {
			return nil, fmt.Errorf("diagram: %w", err)
		}
		return ks, nil
	default:
		return nil, fmt.Errorf("diagram: unknown store %q", kind)
	}
}
