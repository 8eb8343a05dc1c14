package source

import (
	"fmt"
	"strings"
)

// Pair is one key of an object literal with its string values. Scalar values
// yield a single-element slice; arrays of strings yield one entry per element.
type Pair struct {
	Key    string
	Values []string
}

// ParseObject parses an object literal such as
//
//	{ pin1: "VCC", "pin 2": ["OUT", "DOUT"], GND: net.GND }
//
// preserving key order. Nested objects are skipped. On error the pairs parsed
// so far are returned together with the error.
func ParseObject(expr string) ([]Pair, error) {
	p := &objParser{src: strings.TrimSpace(expr)}
	return p.parse()
}

type objParser struct {
	src string
	pos int
}

func (p *objParser) parse() ([]Pair, error) {
	p.skipSpace()
	if !p.consume('{') {
		return nil, fmt.Errorf("object literal must start with '{'")
	}

	var pairs []Pair
	for {
		p.skipSpace()
		for p.consume(',') {
			p.skipSpace()
		}
		if p.pos >= len(p.src) {
			return pairs, fmt.Errorf("unterminated object literal")
		}
		if p.consume('}') {
			return pairs, nil
		}

		key, err := p.key()
		if err != nil {
			return pairs, err
		}
		p.skipSpace()
		if !p.consume(':') {
			return pairs, fmt.Errorf("expected ':' after key %q", key)
		}
		p.skipSpace()

		values, err := p.value()
		if err != nil {
			return pairs, fmt.Errorf("value of %q: %w", key, err)
		}
		pairs = append(pairs, Pair{Key: key, Values: values})
	}
}

func (p *objParser) key() (string, error) {
	if p.pos >= len(p.src) {
		return "", fmt.Errorf("unexpected end of object literal")
	}
	switch c := p.src[p.pos]; {
	case c == '"' || c == '\'':
		return p.str()
	case c == '[':
		return "", fmt.Errorf("computed keys are not supported")
	default:
		tok := p.token()
		if tok == "" {
			return "", fmt.Errorf("unexpected %q in object literal", c)
		}
		return tok, nil
	}
}

func (p *objParser) value() ([]string, error) {
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("missing value")
	}
	switch c := p.src[p.pos]; {
	case c == '"' || c == '\'' || c == '`':
		s, err := p.str()
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	case c == '[':
		return p.array()
	case c == '{':
		if err := p.skipGroup('{', '}'); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		tok := p.token()
		if tok == "" {
			return nil, fmt.Errorf("unexpected %q", c)
		}
		return []string{tok}, nil
	}
}

func (p *objParser) array() ([]string, error) {
	p.pos++ // '['
	var out []string
	for {
		p.skipSpace()
		for p.consume(',') {
			p.skipSpace()
		}
		if p.pos >= len(p.src) {
			return out, fmt.Errorf("unterminated array")
		}
		if p.consume(']') {
			return out, nil
		}
		vals, err := p.value()
		if err != nil {
			return out, err
		}
		out = append(out, vals...)
	}
}

func (p *objParser) str() (string, error) {
	q := p.src[p.pos]
	end := strings.IndexByte(p.src[p.pos+1:], q)
	if end < 0 {
		return "", fmt.Errorf("unterminated string")
	}
	s := p.src[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return s, nil
}

// token reads an identifier, number or dotted reference such as net.GND.
func (p *objParser) token() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isNameStart(c) || (c >= '0' && c <= '9') || c == '-' || c == '.' || c == '+' || c == '$' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *objParser) skipGroup(open, close byte) error {
	depth := 0
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				p.pos++
				return nil
			}
		}
		p.pos++
	}
	return fmt.Errorf("unbalanced %c", open)
}

func (p *objParser) consume(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *objParser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}
