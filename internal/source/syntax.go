package source

import (
	"context"
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// SyntaxIssue is one ERROR or MISSING node reported by the grammar.
type SyntaxIssue struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Snippet string `json:"snippet"`
	Missing bool   `json:"missing,omitempty"`
}

func (i SyntaxIssue) String() string {
	if i.Missing {
		return fmt.Sprintf("line %d:%d: missing %s", i.Line, i.Column, i.Snippet)
	}
	return fmt.Sprintf("line %d:%d: unexpected %q", i.Line, i.Column, i.Snippet)
}

// SyntaxChecker checks design source against a full grammar.
type SyntaxChecker interface {
	Check(ctx context.Context, text string) ([]SyntaxIssue, error)
}

// TreeSitterChecker parses design source with the tree-sitter TSX grammar.
// A parser is created per call, so the checker is safe for concurrent use.
type TreeSitterChecker struct {
	lang *tree_sitter.Language

	// MaxIssues caps the number of reported issues; zero means 20.
	MaxIssues int
}

var _ SyntaxChecker = (*TreeSitterChecker)(nil)

// NewTreeSitterChecker returns a checker using the TSX grammar.
func NewTreeSitterChecker() *TreeSitterChecker {
	return &TreeSitterChecker{
		lang: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
	}
}

// Check parses text and returns the syntax errors found, in source order.
func (c *TreeSitterChecker) Check(ctx context.Context, text string) ([]SyntaxIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(c.lang); err != nil {
		return nil, fmt.Errorf("source: set tsx language: %w", err)
	}

	src := []byte(text)
	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, fmt.Errorf("source: tree-sitter returned nil tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}

	limit := c.MaxIssues
	if limit <= 0 {
		limit = 20
	}

	var issues []SyntaxIssue
	cursor := root.Walk()
	defer cursor.Close()
	collectIssues(cursor, src, limit, &issues)
	return issues, nil
}

func collectIssues(cursor *tree_sitter.TreeCursor, src []byte, limit int, out *[]SyntaxIssue) {
	if len(*out) >= limit {
		return
	}
	node := cursor.Node()
	if !node.HasError() && !node.IsMissing() {
		return
	}

	switch {
	case node.IsMissing():
		pos := node.StartPosition()
		*out = append(*out, SyntaxIssue{
			Line:    int(pos.Row) + 1,
			Column:  int(pos.Column) + 1,
			Snippet: node.Kind(),
			Missing: true,
		})
		return
	case node.IsError():
		pos := node.StartPosition()
		*out = append(*out, SyntaxIssue{
			Line:    int(pos.Row) + 1,
			Column:  int(pos.Column) + 1,
			Snippet: snippet(src[node.StartByte():node.EndByte()]),
		})
		return
	}

	if cursor.GotoFirstChild() {
		collectIssues(cursor, src, limit, out)
		for cursor.GotoNextSibling() {
			collectIssues(cursor, src, limit, out)
		}
		cursor.GotoParent()
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}
