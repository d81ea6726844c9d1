package filter

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

type operator int

const (
	opEqual operator = iota
	opApprox
	opGreater
	opLess
)

func (o operator) String() string {
	switch o {
	case opApprox:
		return "~="
	case opGreater:
		return ">="
	case opLess:
		return "<="
	default:
		return "="
	}
}

type node interface {
	match(props map[string]any) bool
	String() string
}

type andNode struct{ children []node }

func (n *andNode) match(props map[string]any) bool {
	for _, c := range n.children {
		if !c.match(props) {
			return false
		}
	}
	return true
}

func (n *andNode) String() string { return "(&" + joinNodes(n.children) + ")" }

type orNode struct{ children []node }

func (n *orNode) match(props map[string]any) bool {
	for _, c := range n.children {
		if c.match(props) {
			return true
		}
	}
	return false
}

func (n *orNode) String() string { return "(|" + joinNodes(n.children) + ")" }

type notNode struct{ child node }

func (n *notNode) match(props map[string]any) bool { return !n.child.match(props) }

func (n *notNode) String() string { return "(!" + n.child.String() + ")" }

type presentNode struct{ attr string }

func (n *presentNode) match(props map[string]any) bool {
	_, ok := lookup(props, n.attr)
	return ok
}

func (n *presentNode) String() string { return "(" + n.attr + "=*)" }

type substringNode struct {
	attr string
	// parts[0] is the initial segment, parts[len-1] the final one; either
	// may be empty.
	parts []string
}

func (n *substringNode) match(props map[string]any) bool {
	v, ok := lookup(props, n.attr)
	if !ok {
		return false
	}
	return anyElement(v, func(e any) bool { return n.matchString(fmt.Sprint(e)) })
}

func (n *substringNode) matchString(s string) bool {
	first, last := n.parts[0], n.parts[len(n.parts)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	for _, mid := range n.parts[1 : len(n.parts)-1] {
		i := strings.Index(s, mid)
		if i < 0 {
			return false
		}
		s = s[i+len(mid):]
	}
	return strings.HasSuffix(s, last)
}

func (n *substringNode) String() string {
	escaped := make([]string, len(n.parts))
	for i, p := range n.parts {
		escaped[i] = escape(p)
	}
	return "(" + n.attr + "=" + strings.Join(escaped, "*") + ")"
}

type compareNode struct {
	attr  string
	op    operator
	value string
}

func (n *compareNode) match(props map[string]any) bool {
	v, ok := lookup(props, n.attr)
	if !ok {
		return false
	}
	return anyElement(v, n.compare)
}

func (n *compareNode) String() string {
	return "(" + n.attr + n.op.String() + escape(n.value) + ")"
}

func (n *compareNode) compare(v any) bool {
	switch x := v.(type) {
	case string:
		return compareStrings(x, n.value, n.op)
	case bool:
		b, err := strconv.ParseBool(strings.TrimSpace(n.value))
		if err != nil {
			return false
		}
		return (n.op == opEqual || n.op == opApprox) && x == b
	case int, int8, int16, int32, int64:
		want, err := strconv.ParseInt(strings.TrimSpace(n.value), 10, 64)
		if err != nil {
			return false
		}
		return compareOrdered(reflect.ValueOf(x).Int(), want, n.op)
	case uint, uint8, uint16, uint32, uint64:
		want, err := strconv.ParseUint(strings.TrimSpace(n.value), 10, 64)
		if err != nil {
			return false
		}
		return compareOrdered(reflect.ValueOf(x).Uint(), want, n.op)
	case float32, float64:
		want, err := strconv.ParseFloat(strings.TrimSpace(n.value), 64)
		if err != nil {
			return false
		}
		return compareOrdered(reflect.ValueOf(x).Float(), want, n.op)
	case fmt.Stringer:
		return compareStrings(x.String(), n.value, n.op)
	default:
		return compareStrings(fmt.Sprint(x), n.value, n.op)
	}
}

func compareStrings(have, want string, op operator) bool {
	switch op {
	case opApprox:
		return strings.EqualFold(stripSpace(have), stripSpace(want))
	case opGreater:
		return have >= want
	case opLess:
		return have <= want
	default:
		return have == want
	}
}

type ordered interface {
	~int64 | ~uint64 | ~float64
}

func compareOrdered[T ordered](have, want T, op operator) bool {
	switch op {
	case opGreater:
		return have >= want
	case opLess:
		return have <= want
	default:
		return have == want
	}
}

// anyElement applies fn to v, or to each element when v is a slice or
// array. []byte is treated as a scalar string.
func anyElement(v any, fn func(any) bool) bool {
	if b, ok := v.([]byte); ok {
		return fn(string(b))
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if fn(rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return fn(v)
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func escape(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', ')', '*', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func joinNodes(nodes []node) string {
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(n.String())
	}
	return sb.String()
}
