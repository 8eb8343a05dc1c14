package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/circuitloop/internal/circuit"
)

func loaded(t *testing.T, c *circuit.Circuit) *MemStore {
	t.Helper()
	store := NewMemStore()
	require.NoError(t, Load(context.Background(), store, c))
	return store
}

func TestIslands_SharedNetJoinsComponents(t *testing.T) {
	islands, err := Islands(context.Background(), loaded(t, sampleCircuit()))
	require.NoError(t, err)
	require.Len(t, islands, 1)
	assert.Equal(t, []string{"R1", "U1"}, islands[0].Members)
	assert.Equal(t, []string{"GND", "SIG", "VCC"}, islands[0].Nets)
}

func TestIslands_SeparateSubcircuits(t *testing.T) {
	c := &circuit.Circuit{
		Components: []circuit.Component{
			{Name: "R1", Kind: "resistor", Pins: []circuit.Pin{{Name: "pin1", Net: "A"}, {Name: "pin2", Net: "B"}}},
			{Name: "R2", Kind: "resistor", Pins: []circuit.Pin{{Name: "pin1", Net: "B"}}},
			{Name: "R3", Kind: "resistor", Pins: []circuit.Pin{{Name: "pin1", Net: "C"}}},
			{Name: "C1", Kind: "capacitor", Pins: []circuit.Pin{{Name: "pin1", Net: "C"}}},
			{Name: "D1", Kind: "led", Pins: []circuit.Pin{{Name: "anode"}}},
		},
		Nets: []circuit.Net{{Name: "A"}, {Name: "B"}, {Name: "C"}},
	}
	islands, err := Islands(context.Background(), loaded(t, c))
	require.NoError(t, err)
	require.Len(t, islands, 3)

	assert.Equal(t, []string{"C1", "R3"}, islands[0].Members)
	assert.Equal(t, []string{"C"}, islands[0].Nets)
	assert.Equal(t, []string{"D1"}, islands[1].Members)
	assert.Empty(t, islands[1].Nets)
	assert.Equal(t, []string{"R1", "R2"}, islands[2].Members)
	assert.Equal(t, []string{"A", "B"}, islands[2].Nets)
}

func TestIslands_Empty(t *testing.T) {
	islands, err := Islands(context.Background(), loaded(t, &circuit.Circuit{}))
	require.NoError(t, err)
	assert.Empty(t, islands)
}

func TestIslands_Cancelled(t *testing.T) {
	store := loaded(t, sampleCircuit())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Islands(ctx, store)
	assert.ErrorIs(t, err, context.Canceled)
}
