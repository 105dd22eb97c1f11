package selector

// PropertySource resolves a message property by name to a selector Value.
// A missing property resolves to Unknown, which is what drives the
// "UNKNOWN is treated as non-match" rule during evaluation.
type PropertySource interface {
	Property(name string) Value
}

// PropertyMap is a convenience PropertySource backed by a plain map, used
// wherever callers already hold message properties as Go native values.
type PropertyMap map[string]any

func (m PropertyMap) Property(name string) Value {
	v, ok := m[name]
	if !ok {
		return Unknown
	}
	return toValue(v)
}

func toValue(v any) Value {
	switch t := v.(type) {
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case int:
		return ExactValue(int64(t))
	case int32:
		return ExactValue(int64(t))
	case int64:
		return ExactValue(t)
	case uint16:
		return ExactValue(int64(t))
	case uint32:
		return ExactValue(int64(t))
	case float32:
		return InexactValue(float64(t))
	case float64:
		return InexactValue(t)
	default:
		return Unknown
	}
}

// Match evaluates the compiled selector node against ps. A nil node (no
// selector) matches everything; otherwise only a BOOL TRUE result matches,
// so UNKNOWN and non-boolean results count as non-matches for dispatch.
func Match(node Node, ps PropertySource) bool {
	if node == nil {
		return true
	}
	return Truth(node.eval(ps))
}

// Evaluate exposes the raw three-valued result, primarily for tests.
func Evaluate(node Node, ps PropertySource) Value {
	return node.eval(ps)
}

type litNode struct{ v Value }

func (n *litNode) eval(PropertySource) Value { return n.v }

type propNode struct{ name string }

func (n *propNode) eval(ps PropertySource) Value {
	if ps == nil {
		return Unknown
	}
	return ps.Property(n.name)
}

type notNode struct{ inner Node }

func (n *notNode) eval(ps PropertySource) Value { return Not(n.inner.eval(ps)) }

type negNode struct{ inner Node }

func (n *negNode) eval(ps PropertySource) Value { return Neg(n.inner.eval(ps)) }

type binOpNode struct {
	op          func(a, b Value) Value
	left, right Node
}

func (n *binOpNode) eval(ps PropertySource) Value {
	return n.op(n.left.eval(ps), n.right.eval(ps))
}

type betweenNode struct{ value, lo, hi Node }

func (n *betweenNode) eval(ps PropertySource) Value {
	v := n.value.eval(ps)
	lo := n.lo.eval(ps)
	hi := n.hi.eval(ps)
	return And(GreaterEqual(v, lo), LessEqual(v, hi))
}

type inNode struct {
	value Node
	items []Node
}

func (n *inNode) eval(ps PropertySource) Value {
	v := n.value.eval(ps)
	if IsUnknown(v) {
		return Unknown
	}
	sawUnknown := false
	for _, item := range n.items {
		eq := Equal(v, item.eval(ps))
		if IsUnknown(eq) {
			sawUnknown = true
			continue
		}
		if eq.B {
			return BoolValue(true)
		}
	}
	if sawUnknown {
		return Unknown
	}
	return BoolValue(false)
}

type isNullNode struct {
	value Node
	isNot bool
}

func (n *isNullNode) eval(ps PropertySource) Value {
	isNull := IsUnknown(n.value.eval(ps))
	if n.isNot {
		return BoolValue(!isNull)
	}
	return BoolValue(isNull)
}

type likeNode struct {
	value   Node
	pattern string
}

func (n *likeNode) eval(ps PropertySource) Value {
	v := n.value.eval(ps)
	if v.Kind != KindString {
		return Unknown
	}
	return BoolValue(likeMatch(v.S, n.pattern))
}

// likeMatch implements SQL LIKE with '_' (any single char) and '%' (any run
// of chars) wildcards via a standard DP-free recursive match over indices.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		// Skip redundant consecutive '%'.
		for len(p) > 0 && p[0] == '%' {
			p = p[1:]
		}
		if len(p) == 0 {
			return true
		}
		for i := 0; i <= len(s); i++ {
			if likeMatchRunes(s[i:], p) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}
