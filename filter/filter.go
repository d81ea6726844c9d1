// Package filter implements the LDAP search filter syntax (RFC 1960) used to
// select registry entries by their properties, for example
//
//	(&(objectClass=example.Greeter)(|(lang=en*)(service.ranking>=10)))
//
// Attribute names match case-insensitively. Values are compared according to
// the type of the property: strings, integers, floats and booleans are
// supported directly, slices and arrays match when any element matches, and
// anything else is compared through fmt.Sprint.
package filter

import (
	"fmt"
	"strings"

	"github.com/apache/karaf-sub011/errors"
)

// Filter is a parsed, immutable filter expression. A nil *Filter matches
// every property set.
type Filter struct {
	root node
	text string
}

// Parse parses a filter expression. Leading and trailing whitespace is
// ignored. An empty expression is rejected.
func Parse(expr string) (*Filter, error) {
	p := &parser{src: expr}
	p.skipSpace()
	if p.eof() {
		return nil, errors.WrapInvalid(errors.ErrInvalidFilter, "Filter", "Parse", "empty expression")
	}
	root, err := p.parseFilter()
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q: %v", errors.ErrInvalidFilter, expr, err), "Filter", "Parse", "filter parse")
	}
	p.skipSpace()
	if !p.eof() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q: trailing characters at offset %d", errors.ErrInvalidFilter, expr, p.pos),
			"Filter", "Parse", "filter parse")
	}
	return &Filter{root: root, text: root.String()}, nil
}

// MustParse is like Parse but panics on error. Intended for constant
// expressions in tests and package-level variables.
func MustParse(expr string) *Filter {
	f, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Match reports whether the property set satisfies the filter.
func (f *Filter) Match(props map[string]any) bool {
	if f == nil {
		return true
	}
	return f.root.match(props)
}

// String returns the normalized form of the filter. Two filters that parse
// to the same tree have the same string.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.text
}

// Equal reports whether two filters have the same normalized form.
func Equal(a, b *Filter) bool {
	return a.String() == b.String()
}

// And combines filters with a conjunction, skipping nil entries. It returns
// nil when every argument is nil.
func And(filters ...*Filter) *Filter {
	var nodes []node
	for _, f := range filters {
		if f != nil {
			nodes = append(nodes, f.root)
		}
	}
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return &Filter{root: nodes[0], text: nodes[0].String()}
	}
	n := &andNode{children: nodes}
	return &Filter{root: n, text: n.String()}
}

// Equality returns a filter matching attr=value exactly.
func Equality(attr, value string) *Filter {
	n := &compareNode{attr: attr, op: opEqual, value: value}
	return &Filter{root: n, text: n.String()}
}

// lookup finds a property by case-insensitive key.
func lookup(props map[string]any, attr string) (any, bool) {
	if v, ok := props[attr]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, attr) {
			return v, true
		}
	}
	return nil, false
}
