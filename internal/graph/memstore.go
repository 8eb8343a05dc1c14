package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
type MemStore struct {
	mu         sync.RWMutex
	components map[string]ComponentNode
	pins       map[string]PinNode
	nets       map[string]bool
	onNet      map[string]map[string]bool // pin ID → nets
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		components: make(map[string]ComponentNode),
		pins:       make(map[string]PinNode),
		nets:       make(map[string]bool),
		onNet:      make(map[string]map[string]bool),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// AddComponent stores a component keyed by name.
func (m *MemStore) AddComponent(_ context.Context, node ComponentNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[node.Name] = node
	return nil
}

// AddPin stores a pin. Its component must already exist.
func (m *MemStore) AddPin(_ context.Context, node PinNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[node.Component]; !ok {
		return fmt.Errorf("memstore: pin %s: unknown component %s", node.ID(), node.Component)
	}
	m.pins[node.ID()] = node
	return nil
}

// AddNet stores a net.
func (m *MemStore) AddNet(_ context.Context, node NetNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nets[node.Name] = true
	return nil
}

// Connect puts a pin on a net. Both must already exist.
func (m *MemStore) Connect(_ context.Context, pinID, net string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pins[pinID]; !ok {
		return fmt.Errorf("memstore: connect: unknown pin %s", pinID)
	}
	if !m.nets[net] {
		return fmt.Errorf("memstore: connect: unknown net %s", net)
	}
	if m.onNet[pinID] == nil {
		m.onNet[pinID] = make(map[string]bool)
	}
	m.onNet[pinID][net] = true
	return nil
}

// Components returns all components sorted by name.
func (m *MemStore) Components(_ context.Context) ([]ComponentNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ComponentNode, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Nets returns all net names, sorted.
func (m *MemStore) Nets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.nets), nil
}

// ComponentsOnNet returns the distinct components with a pin on net.
func (m *MemStore) ComponentsOnNet(_ context.Context, net string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]bool)
	for id, nets := range m.onNet {
		if nets[net] {
			set[m.pins[id].Component] = true
		}
	}
	return sortedKeys(set), nil
}

// PinsOnNet returns the pin IDs on net.
func (m *MemStore) PinsOnNet(_ context.Context, net string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]bool)
	for id, nets := range m.onNet {
		if nets[net] {
			set[id] = true
		}
	}
	return sortedKeys(set), nil
}

// NetsOfPin returns the nets a pin is connected to.
func (m *MemStore) NetsOfPin(_ context.Context, pinID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.onNet[pinID]), nil
}

// FloatingPins returns the IDs of pins on no net.
func (m *MemStore) FloatingPins(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]bool)
	for id := range m.pins {
		if len(m.onNet[id]) == 0 {
			set[id] = true
		}
	}
	return sortedKeys(set), nil
}

// Stats returns node and edge counts.
func (m *MemStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := 0
	for _, nets := range m.onNet {
		conns += len(nets)
	}
	return &Stats{
		ComponentCount:  len(m.components),
		PinCount:        len(m.pins),
		NetCount:        len(m.nets),
		ConnectionCount: conns,
	}, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
