// Package selector implements the SQL-92-like predicate language used by
// subscriptions to filter messages: tokenizer, recursive-descent parser,
// and a three-valued-logic evaluator over message properties.
package selector

import "fmt"

// Kind tags the dynamic type carried by a Value.
type Kind byte

const (
	KindUnknown Kind = iota
	KindBool
	KindExact   // int64
	KindInexact // float64
	KindString
)

// Value is a tagged union over the selector's runtime types, mirroring the
// original broker's Value union but as a Go struct since Go has no unions
// and strings need not be borrowed under a garbage collector.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	X    float64
	S    string
}

// Unknown is the zero Value: every operation on it propagates UNKNOWN.
var Unknown = Value{Kind: KindUnknown}

func BoolValue(b bool) Value    { return Value{Kind: KindBool, B: b} }
func ExactValue(i int64) Value  { return Value{Kind: KindExact, I: i} }
func InexactValue(x float64) Value { return Value{Kind: KindInexact, X: x} }
func StringValue(s string) Value   { return Value{Kind: KindString, S: s} }

func IsUnknown(v Value) bool { return v.Kind == KindUnknown }
func IsNumeric(v Value) bool { return v.Kind == KindExact || v.Kind == KindInexact }
func SameType(a, b Value) bool { return a.Kind == b.Kind }

// AsFloat returns v's numeric value promoted to float64; only valid when
// IsNumeric(v) is true.
func (v Value) AsFloat() float64 {
	if v.Kind == KindExact {
		return float64(v.I)
	}
	return v.X
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindExact:
		return fmt.Sprintf("%d", v.I)
	case KindInexact:
		return fmt.Sprintf("%g", v.X)
	case KindString:
		return v.S
	default:
		return "UNKNOWN"
	}
}

// BoolOrUnknown converts a three-valued comparison result into a Value,
// matching the original BoolOrNone tri-state.
func BoolOrUnknown(b, known bool) Value {
	if !known {
		return Unknown
	}
	return BoolValue(b)
}

// Truth extracts a definite boolean from v for use as a predicate match
// decision. UNKNOWN and non-bool values are treated as non-match, per the
// "UNKNOWN is treated as non-match" rule.
func Truth(v Value) bool {
	return v.Kind == KindBool && v.B
}

// Equal implements typed equality: numeric values compare across EXACT and
// INEXACT via float promotion, strings compare byte-wise, bools compare
// directly. Mismatched non-numeric kinds or an UNKNOWN operand yield UNKNOWN.
func Equal(a, b Value) Value {
	if IsUnknown(a) || IsUnknown(b) {
		return Unknown
	}
	if IsNumeric(a) && IsNumeric(b) {
		return BoolValue(a.AsFloat() == b.AsFloat())
	}
	if a.Kind != b.Kind {
		return Unknown
	}
	switch a.Kind {
	case KindBool:
		return BoolValue(a.B == b.B)
	case KindString:
		return BoolValue(a.S == b.S)
	default:
		return Unknown
	}
}

func NotEqual(a, b Value) Value {
	eq := Equal(a, b)
	if IsUnknown(eq) {
		return Unknown
	}
	return BoolValue(!eq.B)
}

// compareOrdered implements <, <=, >, >= with BOOL excluded from ordering,
// as specified: "BOOL is not ordered."
func compareOrdered(a, b Value) (cmp int, known bool) {
	if IsUnknown(a) || IsUnknown(b) {
		return 0, false
	}
	if IsNumeric(a) && IsNumeric(b) {
		af, bf := a.AsFloat(), b.AsFloat()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Kind == KindString && b.Kind == KindString {
		switch {
		case a.S < b.S:
			return -1, true
		case a.S > b.S:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func Less(a, b Value) Value {
	c, known := compareOrdered(a, b)
	return BoolOrUnknown(c < 0, known)
}

func LessEqual(a, b Value) Value {
	c, known := compareOrdered(a, b)
	return BoolOrUnknown(c <= 0, known)
}

func Greater(a, b Value) Value {
	c, known := compareOrdered(a, b)
	return BoolOrUnknown(c > 0, known)
}

func GreaterEqual(a, b Value) Value {
	c, known := compareOrdered(a, b)
	return BoolOrUnknown(c >= 0, known)
}

// Not implements Kleene NOT: NOT UNKNOWN = UNKNOWN.
func Not(a Value) Value {
	if a.Kind != KindBool {
		return Unknown
	}
	return BoolValue(!a.B)
}

// And implements Kleene AND: FALSE dominates even an UNKNOWN operand.
func And(a, b Value) Value {
	af, aKnown := a.Kind == KindBool, a.Kind == KindBool && !a.B
	bf, bKnown := b.Kind == KindBool, b.Kind == KindBool && !b.B
	if aKnown && af {
		return BoolValue(false)
	}
	if bKnown && bf {
		return BoolValue(false)
	}
	if a.Kind != KindBool || b.Kind != KindBool {
		return Unknown
	}
	return BoolValue(a.B && b.B)
}

// Or implements Kleene OR: TRUE dominates even an UNKNOWN operand.
func Or(a, b Value) Value {
	if a.Kind == KindBool && a.B {
		return BoolValue(true)
	}
	if b.Kind == KindBool && b.B {
		return BoolValue(true)
	}
	if a.Kind != KindBool || b.Kind != KindBool {
		return Unknown
	}
	return BoolValue(a.B || b.B)
}

// Add, Sub, Mul, Div implement the arithmetic operators with EXACT/INEXACT
// promotion; division by zero yields UNKNOWN rather than a fatal error.
func Add(a, b Value) Value { return arith(a, b, func(x, y float64) float64 { return x + y }, func(x, y int64) int64 { return x + y }) }
func Sub(a, b Value) Value { return arith(a, b, func(x, y float64) float64 { return x - y }, func(x, y int64) int64 { return x - y }) }
func Mul(a, b Value) Value { return arith(a, b, func(x, y float64) float64 { return x * y }, func(x, y int64) int64 { return x * y }) }

func Div(a, b Value) Value {
	if !IsNumeric(a) || !IsNumeric(b) {
		return Unknown
	}
	if a.Kind == KindExact && b.Kind == KindExact {
		if b.I == 0 {
			return Unknown
		}
		return ExactValue(a.I / b.I)
	}
	bf := b.AsFloat()
	if bf == 0 {
		return Unknown
	}
	return InexactValue(a.AsFloat() / bf)
}

func Neg(a Value) Value {
	switch a.Kind {
	case KindExact:
		return ExactValue(-a.I)
	case KindInexact:
		return InexactValue(-a.X)
	default:
		return Unknown
	}
}

func arith(a, b Value, fFn func(x, y float64) float64, iFn func(x, y int64) int64) Value {
	if !IsNumeric(a) || !IsNumeric(b) {
		return Unknown
	}
	if a.Kind == KindExact && b.Kind == KindExact {
		return ExactValue(iFn(a.I, b.I))
	}
	return InexactValue(fFn(a.AsFloat(), b.AsFloat()))
}
