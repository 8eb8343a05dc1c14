package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dusk-indust/circuitloop/internal/circuit"
)

// BOMFormat is the Preview format of BOM.
const BOMFormat = "bom-csv"

// BOM builds a bill-of-materials CSV preview. Parts with the same kind,
// value and footprint share a line.
type BOM struct{}

var _ circuit.Previewer = BOM{}

// Preview implements circuit.Previewer.
func (BOM) Preview(ctx context.Context, c *circuit.Circuit) (*circuit.Preview, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("export: bom: nil circuit")
	}
	content, err := BOMCSV(c)
	if err != nil {
		return nil, err
	}
	return &circuit.Preview{Format: BOMFormat, Content: content}, nil
}

type bomKey struct {
	kind, value, footprint string
}

// BOMCSV renders the bill of materials of c.
func BOMCSV(c *circuit.Circuit) (string, error) {
	groups := make(map[bomKey][]string)
	var keys []bomKey
	for _, comp := range c.Components {
		k := bomKey{comp.Kind, comp.Value, comp.Footprint}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], comp.Name)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.value != b.value {
			return a.value < b.value
		}
		return a.footprint < b.footprint
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"designators", "kind", "value", "footprint", "quantity"}); err != nil {
		return "", fmt.Errorf("export: bom: %w", err)
	}
	for _, k := range keys {
		names := groups[k]
		sort.Strings(names)
		if err := w.Write([]string{strings.Join(names, " "), k.kind, k.value, k.footprint, strconv.Itoa(len(names))}); err != nil {
			return "", fmt.Errorf("export: bom: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: bom: %w", err)
	}
	return buf.String(), nil
}
