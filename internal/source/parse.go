// Package source parses circuit design source text into a typed element
// sequence without compiling it. The parser understands just enough of the
// JSX-shaped dialect to locate component and trace declarations and their
// attributes; everything else is skipped.
package source

import (
	"fmt"
	"sort"
	"strings"
)

// AttrKind distinguishes how an attribute value was written.
type AttrKind int

const (
	AttrString AttrKind = iota // name="value" or name='value'
	AttrExpr                   // name={expression}
	AttrBare                   // name (boolean true) or name=value
)

// Attr is one attribute of an element. ValueStart and ValueEnd delimit the
// raw value in the document text (quotes and braces included), so callers can
// rewrite it in place.
type Attr struct {
	Name       string
	Value      string // unquoted string, or expression without outer braces
	Kind       AttrKind
	ValueStart int
	ValueEnd   int
}

// Text returns the attribute value as plain text. Expressions holding a
// single string or number literal are unwrapped.
func (a Attr) Text() string {
	if a.Kind != AttrExpr {
		return a.Value
	}
	v := strings.TrimSpace(a.Value)
	if s, ok := unquote(v); ok {
		return s
	}
	return v
}

// Element is a tag in the design source.
type Element struct {
	Tag         string
	Attrs       []Attr
	Start       int // offset of '<'
	End         int // offset one past the closing '>'
	Line        int // 1-based line of '<'
	SelfClosing bool
}

// Attr returns the named attribute.
func (e Element) Attr(name string) (Attr, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}

// Problem is a lexical defect found while scanning.
type Problem struct {
	Line    int
	Message string
}

// Document is the parsed form of one design source.
type Document struct {
	Text     string
	Elements []Element
	Closings []Element // closing tags such as </board>
	Problems []Problem

	lineStarts []int
}

// Parse scans text into a Document. It never fails; malformed constructs are
// recorded in Document.Problems and scanning resumes after them.
func Parse(text string) *Document {
	d := &Document{Text: text}
	d.lineStarts = computeLineStarts(text)
	s := &scanner{doc: d, src: text, sig: -1}
	s.run()
	return d
}

// LineOf returns the 1-based line containing byte offset off.
func (d *Document) LineOf(off int) int {
	i := sort.Search(len(d.lineStarts), func(i int) bool { return d.lineStarts[i] > off })
	return i
}

// Closing returns the first closing tag with the given name.
func (d *Document) Closing(tag string) (Element, bool) {
	for _, c := range d.Closings {
		if c.Tag == tag {
			return c, true
		}
	}
	return Element{}, false
}

func computeLineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

type scanner struct {
	doc *Document
	src string
	pos int

	depth      int // open elements
	braces     int // expression braces inside element content
	lastTagEnd int // offset one past the most recent tag's '>'
	sig        int // offset of the last byte outside comments and space
	resync     bool
}

func (s *scanner) problem(off int, format string, args ...any) {
	s.doc.Problems = append(s.doc.Problems, Problem{
		Line:    s.doc.LineOf(off),
		Message: fmt.Sprintf(format, args...),
	})
}

func (s *scanner) run() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '/' && s.peek(1) == '/':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		case (c == '"' || c == '\'' || c == '`') && !s.inContent():
			s.skipString(c)
			s.sig = s.pos - 1
		case c == '<' && s.peek(1) == '/':
			s.scanClosing()
			s.sig = s.pos - 1
		case c == '<' && isNameStart(s.peek(1)) && s.elementAllowed():
			s.scanElement()
			s.sig = s.pos - 1
		default:
			if !isSpace(c) {
				s.sig = s.pos
				s.resync = false
			}
			if s.depth > 0 {
				switch c {
				case '{':
					s.braces++
				case '}':
					if s.braces > 0 {
						s.braces--
					}
				}
			}
			s.pos++
		}
	}
}

// inContent reports whether the scanner is in element children text, where
// quotes are literal characters.
func (s *scanner) inContent() bool {
	return s.depth > 0 && s.braces == 0
}

// elementAllowed reports whether a '<' at s.pos opens an element rather than
// a comparison or a type argument list. Elements start in element content,
// at the start of the source, after a token that begins an expression, or
// after the return, default and yield keywords.
func (s *scanner) elementAllowed() bool {
	if s.inContent() || s.resync {
		return true
	}
	i := s.sig
	if i < 0 {
		return true
	}
	switch s.src[i] {
	case '(', '{', '[', ',', ';', '?', ':', '=', '!', '&', '|':
		return true
	case '>':
		// "=>" or the end of a preceding tag
		return i+1 == s.lastTagEnd || (i > 0 && s.src[i-1] == '=')
	case '}':
		return s.depth > 0
	}
	j := i
	for j >= 0 && isIdentChar(s.src[j]) {
		j--
	}
	if j >= 0 && s.src[j] == '.' {
		return false
	}
	switch s.src[j+1 : i+1] {
	case "return", "default", "yield":
		return true
	}
	return false
}

// skipString consumes a JS string or template literal outside element
// content. Unterminated single-line strings end at the newline.
func (s *scanner) skipString(q byte) {
	s.pos++
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\':
			s.pos = min(s.pos+2, len(s.src))
			continue
		case c == q:
			s.pos++
			return
		case c == '\n' && q != '`':
			return
		}
		s.pos++
	}
}

func (s *scanner) peek(n int) byte {
	if s.pos+n < len(s.src) {
		return s.src[s.pos+n]
	}
	return 0
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

func (s *scanner) skipBlockComment() {
	start := s.pos
	end := strings.Index(s.src[s.pos+2:], "*/")
	if end < 0 {
		s.problem(start, "unterminated block comment")
		s.pos = len(s.src)
		return
	}
	s.pos += end + 4
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && isSpace(s.src[s.pos]) {
		s.pos++
	}
}

func (s *scanner) readName() string {
	start := s.pos
	for s.pos < len(s.src) && isNameChar(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

func (s *scanner) scanClosing() {
	start := s.pos
	s.pos += 2
	s.skipSpace()
	tag := s.readName()
	s.skipSpace()
	if s.pos >= len(s.src) || s.src[s.pos] != '>' {
		s.problem(start, "malformed closing tag </%s", tag)
		return
	}
	s.pos++
	s.lastTagEnd = s.pos
	if s.depth > 0 {
		s.depth--
		s.braces = 0
	}
	s.doc.Closings = append(s.doc.Closings, Element{
		Tag:   tag,
		Start: start,
		End:   s.pos,
		Line:  s.doc.LineOf(start),
	})
}

func (s *scanner) scanElement() {
	s.resync = false
	start := s.pos
	s.pos++
	el := Element{Tag: s.readName(), Start: start, Line: s.doc.LineOf(start)}

	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			s.problem(start, "unterminated element <%s", el.Tag)
			return
		}
		c := s.src[s.pos]
		switch {
		case c == '/' && s.peek(1) == '>':
			s.pos += 2
			el.SelfClosing = true
			el.End = s.pos
			s.lastTagEnd = s.pos
			s.doc.Elements = append(s.doc.Elements, el)
			return
		case c == '>':
			s.pos++
			el.End = s.pos
			s.lastTagEnd = s.pos
			s.depth++
			s.braces = 0
			s.doc.Elements = append(s.doc.Elements, el)
			return
		case c == '{':
			// Spread attribute such as {...props}; not addressable by name.
			if _, ok := s.skipBalanced(); !ok {
				s.problem(start, "unbalanced braces in element <%s", el.Tag)
				return
			}
		case c == '<':
			s.problem(start, "unterminated element <%s", el.Tag)
			s.resync = true
			return
		case isNameStart(c):
			attr, ok := s.scanAttr(el.Tag)
			if !ok {
				return
			}
			el.Attrs = append(el.Attrs, attr)
		default:
			s.problem(s.pos, "unexpected %q in element <%s", c, el.Tag)
			s.pos++
		}
	}
}

func (s *scanner) scanAttr(tag string) (Attr, bool) {
	attrStart := s.pos
	a := Attr{Name: s.readName()}
	s.skipSpace()
	if s.pos >= len(s.src) || s.src[s.pos] != '=' {
		a.Kind = AttrBare
		a.Value = "true"
		a.ValueStart, a.ValueEnd = s.pos, s.pos
		return a, true
	}
	s.pos++
	s.skipSpace()
	if s.pos >= len(s.src) {
		s.problem(attrStart, "attribute %s of <%s> has no value", a.Name, tag)
		return a, false
	}

	a.ValueStart = s.pos
	switch q := s.src[s.pos]; q {
	case '"', '\'':
		end := strings.IndexByte(s.src[s.pos+1:], q)
		if end < 0 {
			s.problem(attrStart, "unterminated string in attribute %s of <%s>", a.Name, tag)
			s.pos = len(s.src)
			return a, false
		}
		a.Kind = AttrString
		a.Value = s.src[s.pos+1 : s.pos+1+end]
		s.pos += end + 2
	case '{':
		inner, ok := s.skipBalanced()
		if !ok {
			s.problem(attrStart, "unbalanced braces in attribute %s of <%s>", a.Name, tag)
			return a, false
		}
		a.Kind = AttrExpr
		a.Value = inner
	default:
		a.Kind = AttrBare
		for s.pos < len(s.src) && !isSpace(s.src[s.pos]) && s.src[s.pos] != '>' &&
			!(s.src[s.pos] == '/' && s.peek(1) == '>') {
			s.pos++
		}
		a.Value = s.src[a.ValueStart:s.pos]
	}
	a.ValueEnd = s.pos
	return a, true
}

// skipBalanced consumes a {...} group starting at s.pos, honouring nested
// braces and string literals, and returns the text between the outer braces.
func (s *scanner) skipBalanced() (string, bool) {
	start := s.pos
	depth := 0
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch c {
		case '"', '\'', '`':
			end := strings.IndexByte(s.src[s.pos+1:], c)
			if end < 0 {
				s.pos = len(s.src)
				return "", false
			}
			s.pos += end + 2
			continue
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				s.pos++
				return s.src[start+1 : s.pos-1], true
			}
		}
		s.pos++
	}
	return "", false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '$'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '-' || c == '.' || c == ':'
}

// unquote strips matching single, double or backtick quotes.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return s, false
	}
	q := s[0]
	if (q == '"' || q == '\'' || q == '`') && s[len(s)-1] == q {
		return s[1 : len(s)-1], true
	}
	return s, false
}
