//go:build cgo

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements Store using KuzuDB as the graph backend.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore persisted under dbPath. KuzuDB
// creates the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Component(
		name STRING,
		kind STRING,
		footprint STRING,
		x DOUBLE,
		y DOUBLE,
		placed BOOLEAN,
		PRIMARY KEY(name)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Pin(
		id STRING,
		component STRING,
		name STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Net(
		name STRING,
		PRIMARY KEY(name)
	)`,
	`CREATE REL TABLE IF NOT EXISTS HAS_PIN(FROM Component TO Pin)`,
	`CREATE REL TABLE IF NOT EXISTS ON_NET(FROM Pin TO Net)`,
}

// InitSchema creates all node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Write operations ----------

// AddComponent inserts a Component node.
func (s *KuzuStore) AddComponent(_ context.Context, node ComponentNode) error {
	return s.exec(
		`CREATE (c:Component {name: $name, kind: $kind, footprint: $fp, x: $x, y: $y, placed: $placed})`,
		map[string]any{
			"name":   node.Name,
			"kind":   node.Kind,
			"fp":     node.Footprint,
			"x":      node.X,
			"y":      node.Y,
			"placed": node.Placed,
		},
	)
}

// AddPin inserts a Pin node and its HAS_PIN edge.
func (s *KuzuStore) AddPin(_ context.Context, node PinNode) error {
	if err := s.exec(
		"CREATE (p:Pin {id: $id, component: $comp, name: $name})",
		map[string]any{"id": node.ID(), "comp": node.Component, "name": node.Name},
	); err != nil {
		return err
	}
	return s.exec(
		`MATCH (c:Component {name: $comp}), (p:Pin {id: $id})
		 CREATE (c)-[:HAS_PIN]->(p)`,
		map[string]any{"comp": node.Component, "id": node.ID()},
	)
}

// AddNet inserts a Net node.
func (s *KuzuStore) AddNet(_ context.Context, node NetNode) error {
	return s.exec("MERGE (n:Net {name: $name})", map[string]any{"name": node.Name})
}

// Connect inserts an ON_NET edge.
func (s *KuzuStore) Connect(_ context.Context, pinID, net string) error {
	return s.exec(
		`MATCH (p:Pin {id: $id}), (n:Net {name: $net})
		 MERGE (p)-[:ON_NET]->(n)`,
		map[string]any{"id": pinID, "net": net},
	)
}

// ---------- Read operations ----------

// Components returns all components sorted by name.
func (s *KuzuStore) Components(_ context.Context) ([]ComponentNode, error) {
	rows, err := s.query(
		`MATCH (c:Component)
		 RETURN c.name, c.kind, c.footprint, c.x, c.y, c.placed
		 ORDER BY c.name`,
		nil,
	)
	if err != nil {
		return nil, err
	}
	out := make([]ComponentNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, ComponentNode{
			Name:      toString(r[0]),
			Kind:      toString(r[1]),
			Footprint: toString(r[2]),
			X:         toFloat64(r[3]),
			Y:         toFloat64(r[4]),
			Placed:    toBool(r[5]),
		})
	}
	return out, nil
}

// Nets returns all net names, sorted.
func (s *KuzuStore) Nets(_ context.Context) ([]string, error) {
	return s.column("MATCH (n:Net) RETURN n.name ORDER BY n.name", nil)
}

// ComponentsOnNet returns the distinct components with a pin on net.
func (s *KuzuStore) ComponentsOnNet(_ context.Context, net string) ([]string, error) {
	return s.column(
		`MATCH (c:Component)-[:HAS_PIN]->(:Pin)-[:ON_NET]->(:Net {name: $net})
		 RETURN DISTINCT c.name ORDER BY c.name`,
		map[string]any{"net": net},
	)
}

// PinsOnNet returns the pin IDs on net.
func (s *KuzuStore) PinsOnNet(_ context.Context, net string) ([]string, error) {
	return s.column(
		"MATCH (p:Pin)-[:ON_NET]->(:Net {name: $net}) RETURN p.id ORDER BY p.id",
		map[string]any{"net": net},
	)
}

// NetsOfPin returns the nets a pin is connected to.
func (s *KuzuStore) NetsOfPin(_ context.Context, pinID string) ([]string, error) {
	return s.column(
		"MATCH (:Pin {id: $id})-[:ON_NET]->(n:Net) RETURN n.name ORDER BY n.name",
		map[string]any{"id": pinID},
	)
}

// FloatingPins returns the IDs of pins on no net.
func (s *KuzuStore) FloatingPins(_ context.Context) ([]string, error) {
	return s.column(
		`MATCH (p:Pin)
		 OPTIONAL MATCH (p)-[r:ON_NET]->(:Net)
		 WITH p, count(r) AS k
		 WHERE k = 0
		 RETURN p.id ORDER BY p.id`,
		nil,
	)
}

// ---------- Stats ----------

// Stats returns counts of all node tables and ON_NET edges.
func (s *KuzuStore) Stats(_ context.Context) (*Stats, error) {
	var st Stats
	for _, c := range []struct {
		cypher string
		dst    *int
	}{
		{"MATCH (n:Component) RETURN count(n)", &st.ComponentCount},
		{"MATCH (n:Pin) RETURN count(n)", &st.PinCount},
		{"MATCH (n:Net) RETURN count(n)", &st.NetCount},
		{"MATCH ()-[r:ON_NET]->() RETURN count(r)", &st.ConnectionCount},
	} {
		rows, err := s.query(c.cypher, nil)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 && len(rows[0]) > 0 {
			*c.dst = toInt(rows[0][0])
		}
	}
	return &st, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// column runs a single-column query and returns its string values.
func (s *KuzuStore) column(cypher string, params map[string]any) ([]string, error) {
	rows, err := s.query(cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[0]))
	}
	return out, nil
}

// ---------- Type coercion helpers ----------

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
