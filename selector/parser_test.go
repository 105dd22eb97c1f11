package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAndMatch(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		props PropertyMap
		want  bool
	}{
		{"simple gt match", "price > 10", PropertyMap{"price": 20}, true},
		{"simple gt no match", "price > 10", PropertyMap{"price": 5}, false},
		{"missing property is unknown non-match", "price > 10", PropertyMap{}, false},
		{"and both true", "price > 10 AND qty < 5", PropertyMap{"price": 20, "qty": 2}, true},
		{"and one false", "price > 10 AND qty < 5", PropertyMap{"price": 20, "qty": 9}, false},
		{"or either true", "price > 10 OR qty < 5", PropertyMap{"price": 1, "qty": 2}, true},
		{"not", "NOT (price > 10)", PropertyMap{"price": 1}, true},
		{"string equality", "region = 'us-east'", PropertyMap{"region": "us-east"}, true},
		{"in list match", "color IN ('red', 'blue')", PropertyMap{"color": "blue"}, true},
		{"in list no match", "color IN ('red', 'blue')", PropertyMap{"color": "green"}, false},
		{"between inclusive", "price BETWEEN 10 AND 20", PropertyMap{"price": 20}, true},
		{"not between", "price NOT BETWEEN 10 AND 20", PropertyMap{"price": 5}, true},
		{"like percent", "name LIKE 'jo%'", PropertyMap{"name": "john"}, true},
		{"like underscore", "code LIKE 'a_c'", PropertyMap{"code": "abc"}, true},
		{"like no match", "name LIKE 'jo%'", PropertyMap{"name": "amy"}, false},
		{"is null true", "price IS NULL", PropertyMap{}, true},
		{"is not null false", "price IS NOT NULL", PropertyMap{}, false},
		{"arithmetic in predicate", "price + 5 > 20", PropertyMap{"price": 16}, true},
		{"parenthesized precedence", "(price > 10 OR qty > 10) AND region = 'us'", PropertyMap{"price": 20, "region": "us"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Match(node, tt.props))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("")
	assert.ErrorIs(t, err, ErrEmptyExpression)

	_, err = Compile("price >")
	assert.Error(t, err)

	_, err = Compile("price > 10 )")
	assert.Error(t, err)
}

func TestMatchNilNodeIsWildcard(t *testing.T) {
	assert.True(t, Match(nil, PropertyMap{}))
}
