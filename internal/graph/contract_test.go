package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/circuit"
)

// sampleCircuit has a shorted pin (U1.A on VCC and GND) and a floating one
// (U1.EN).
func sampleCircuit() *circuit.Circuit {
	return &circuit.Circuit{
		Components: []circuit.Component{
			{Name: "U1", Kind: "chip", Footprint: "soic8", X: 1, Y: 2, HasPosition: true, Pins: []circuit.Pin{
				{Name: "A", Net: "VCC", Nets: []string{"VCC", "GND"}},
				{Name: "EN"},
				{Name: "OUT", Net: "SIG"},
			}},
			{Name: "R1", Kind: "resistor", Pins: []circuit.Pin{
				{Name: "pin1", Net: "SIG"},
				{Name: "pin2", Net: "GND"},
			}},
		},
		Nets: []circuit.Net{{Name: "VCC"}, {Name: "SIG"}, {Name: "GND"}},
	}
}

// runStoreContract exercises every Store method against a loaded circuit.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, Load(ctx, s, sampleCircuit()))

	comps, err := s.Components(ctx)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "R1", comps[0].Name)
	assert.Equal(t, ComponentNode{Name: "U1", Kind: "chip", Footprint: "soic8", X: 1, Y: 2, Placed: true}, comps[1])

	nets, err := s.Nets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GND", "SIG", "VCC"}, nets)

	onGND, err := s.ComponentsOnNet(ctx, "GND")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "U1"}, onGND)

	pins, err := s.PinsOnNet(ctx, "SIG")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1.pin1", "U1.OUT"}, pins)

	ofA, err := s.NetsOfPin(ctx, "U1.A")
	require.NoError(t, err)
	assert.Equal(t, []string{"GND", "VCC"}, ofA)

	floating, err := s.FloatingPins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"U1.EN"}, floating)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{ComponentCount: 2, PinCount: 5, NetCount: 3, ConnectionCount: 5}, stats)

	empty, err := s.ComponentsOnNet(ctx, "NOPE")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemStore_Contract(t *testing.T) {
	s := NewMemStore()
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestMemStore_RejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	assert.Error(t, s.AddPin(ctx, PinNode{Component: "U1", Name: "A"}))

	require.NoError(t, s.AddComponent(ctx, ComponentNode{Name: "U1"}))
	require.NoError(t, s.AddPin(ctx, PinNode{Component: "U1", Name: "A"}))
	assert.ErrorContains(t, s.Connect(ctx, "U1.A", "GND"), "unknown net")
	assert.ErrorContains(t, s.Connect(ctx, "U1.B", "GND"), "unknown pin")
}

func TestLoad_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Load(ctx, NewMemStore(), sampleCircuit())
	assert.ErrorIs(t, err, context.Canceled)
}
