package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want Value
	}{
		{"exact equal", ExactValue(5), ExactValue(5), BoolValue(true)},
		{"exact vs inexact promotes", ExactValue(5), InexactValue(5.0), BoolValue(true)},
		{"string equal", StringValue("a"), StringValue("a"), BoolValue(true)},
		{"string not equal", StringValue("a"), StringValue("b"), BoolValue(false)},
		{"unknown propagates", Unknown, ExactValue(1), Unknown},
		{"bool mismatch kind is unknown", BoolValue(true), ExactValue(1), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestOrderedComparisons(t *testing.T) {
	assert.Equal(t, BoolValue(true), Less(ExactValue(1), ExactValue(2)))
	assert.Equal(t, BoolValue(false), Greater(ExactValue(1), ExactValue(2)))
	assert.Equal(t, Unknown, Less(BoolValue(true), BoolValue(false)), "BOOL is not ordered")
	assert.Equal(t, Unknown, Less(Unknown, ExactValue(1)))
}

func TestKleeneLogic(t *testing.T) {
	assert.Equal(t, BoolValue(false), And(BoolValue(false), Unknown), "FALSE dominates AND")
	assert.Equal(t, Unknown, And(BoolValue(true), Unknown))
	assert.Equal(t, BoolValue(true), Or(BoolValue(true), Unknown), "TRUE dominates OR")
	assert.Equal(t, Unknown, Or(BoolValue(false), Unknown))
	assert.Equal(t, Unknown, Not(Unknown))
	assert.Equal(t, BoolValue(false), Not(BoolValue(true)))
}

func TestArithmeticPromotion(t *testing.T) {
	assert.Equal(t, ExactValue(7), Add(ExactValue(3), ExactValue(4)))
	assert.Equal(t, InexactValue(7.5), Add(ExactValue(3), InexactValue(4.5)))
	assert.Equal(t, Unknown, Div(ExactValue(1), ExactValue(0)), "division by zero is UNKNOWN, not fatal")
	assert.Equal(t, Unknown, Div(InexactValue(1), InexactValue(0)))
	assert.Equal(t, ExactValue(-3), Neg(ExactValue(3)))
}
