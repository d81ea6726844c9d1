package filter

import (
	"fmt"
	"strings"
)

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n' || p.peek() == '\r') {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.eof() {
		return fmt.Errorf("expected %q at end of input", c)
	}
	if p.peek() != c {
		return fmt.Errorf("expected %q at offset %d, found %q", c, p.pos, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) parseFilter() (node, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.eof() {
		return nil, fmt.Errorf("unterminated filter")
	}

	var (
		n   node
		err error
	)
	switch p.peek() {
	case '&':
		p.pos++
		var children []node
		children, err = p.parseList()
		n = &andNode{children: children}
	case '|':
		p.pos++
		var children []node
		children, err = p.parseList()
		n = &orNode{children: children}
	case '!':
		p.pos++
		var child node
		child, err = p.parseFilter()
		n = &notNode{child: child}
	default:
		n, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseList() ([]node, error) {
	var children []node
	for {
		p.skipSpace()
		if p.eof() || p.peek() != '(' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("empty filter list at offset %d", p.pos)
	}
	return children, nil
}

func (p *parser) parseItem() (node, error) {
	start := p.pos
	for !p.eof() && !strings.ContainsRune("=<>~()", rune(p.peek())) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, fmt.Errorf("missing attribute at offset %d", start)
	}
	if p.eof() {
		return nil, fmt.Errorf("missing operator after %q", attr)
	}

	var op operator
	switch p.peek() {
	case '=':
		op = opEqual
		p.pos++
	case '~', '>', '<':
		c := p.peek()
		p.pos++
		if p.eof() || p.peek() != '=' {
			return nil, fmt.Errorf("invalid operator at offset %d", p.pos-1)
		}
		p.pos++
		switch c {
		case '~':
			op = opApprox
		case '>':
			op = opGreater
		default:
			op = opLess
		}
	default:
		return nil, fmt.Errorf("invalid operator at offset %d", p.pos)
	}

	parts, wildcard, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	if op == opEqual && wildcard {
		if len(parts) == 2 && parts[0] == "" && parts[1] == "" {
			return &presentNode{attr: attr}, nil
		}
		return &substringNode{attr: attr, parts: parts}, nil
	}
	return &compareNode{attr: attr, op: op, value: strings.Join(parts, "")}, nil
}

// parseValue reads an assertion value up to the closing parenthesis. The
// value is split on unescaped '*' characters; wildcard reports whether any
// were seen.
func (p *parser) parseValue() (parts []string, wildcard bool, err error) {
	var sb strings.Builder
	for {
		if p.eof() {
			return nil, false, fmt.Errorf("unterminated value")
		}
		c := p.peek()
		switch c {
		case ')':
			parts = append(parts, sb.String())
			return parts, wildcard, nil
		case '(':
			return nil, false, fmt.Errorf("unescaped '(' in value at offset %d", p.pos)
		case '*':
			wildcard = true
			parts = append(parts, sb.String())
			sb.Reset()
			p.pos++
		case '\\':
			p.pos++
			if p.eof() {
				return nil, false, fmt.Errorf("dangling escape")
			}
			sb.WriteByte(p.peek())
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
}
