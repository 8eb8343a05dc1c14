package source

import (
	"fmt"
	"sort"
	"strings"
)

// Edit replaces text[Start:End] with Text. Start == End inserts.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Rewrite applies edits to text. Edits are applied from the highest offset
// down so earlier offsets stay valid; overlapping or out-of-range edits are
// rejected. Two insertions at the same offset keep their given order.
func Rewrite(text string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return text, nil
	}
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	for i, e := range sorted {
		if e.Start < 0 || e.End < e.Start || e.End > len(text) {
			return "", fmt.Errorf("source: edit [%d,%d) out of range for %d bytes", e.Start, e.End, len(text))
		}
		if i > 0 && sorted[i-1].End > e.Start {
			return "", fmt.Errorf("source: edits [%d,%d) and [%d,%d) overlap",
				sorted[i-1].Start, sorted[i-1].End, e.Start, e.End)
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, e := range sorted {
		b.WriteString(text[last:e.Start])
		b.WriteString(e.Text)
		last = e.End
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

// RemoveElement returns an edit deleting el together with its leading
// indentation and trailing newline, so the surrounding layout is preserved.
func (d *Document) RemoveElement(el Element) Edit {
	start, end := el.Start, el.End
	ls := start
	for ls > 0 && (d.Text[ls-1] == ' ' || d.Text[ls-1] == '\t') {
		ls--
	}
	if ls == 0 || d.Text[ls-1] == '\n' {
		start = ls
		if end < len(d.Text) && d.Text[end] == '\n' {
			end++
		} else if end+1 < len(d.Text) && d.Text[end] == '\r' && d.Text[end+1] == '\n' {
			end += 2
		}
	}
	return Edit{Start: start, End: end}
}

// InsertionPoint returns the offset where new top-level statements belong:
// the start of the line holding </board>, or the end of the text when the
// document has no board.
func (d *Document) InsertionPoint() (offset int, indent string) {
	closing, ok := d.Closing("board")
	if !ok {
		return len(d.Text), ""
	}
	ls := closing.Start
	for ls > 0 && (d.Text[ls-1] == ' ' || d.Text[ls-1] == '\t') {
		ls--
	}
	if ls > 0 && d.Text[ls-1] != '\n' {
		return closing.Start, ""
	}
	indent = d.Text[ls:closing.Start] + "  "
	return ls, indent
}

// InsertLines returns an edit inserting each statement on its own line at the
// document's insertion point.
func (d *Document) InsertLines(statements []string) Edit {
	off, indent := d.InsertionPoint()
	var b strings.Builder
	if off == len(d.Text) && off > 0 && d.Text[off-1] != '\n' {
		b.WriteByte('\n')
	}
	for _, s := range statements {
		b.WriteString(indent)
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return Edit{Start: off, End: off, Text: b.String()}
}

// SetAttr returns an edit that sets attribute name on el to the expression
// value, replacing an existing value or appending a new attribute before the
// element's end.
func (d *Document) SetAttr(el Element, name, expr string) Edit {
	if a, ok := el.Attr(name); ok {
		if a.ValueEnd > a.ValueStart {
			return Edit{Start: a.ValueStart, End: a.ValueEnd, Text: expr}
		}
		return Edit{Start: a.ValueStart, End: a.ValueEnd, Text: "=" + expr + " "}
	}
	at := el.End - 1 // '>'
	if el.SelfClosing {
		at = el.End - 2 // "/>"
	}
	for at > el.Start && isSpace(d.Text[at-1]) {
		at--
	}
	return Edit{Start: at, End: at, Text: " " + name + "=" + expr}
}
