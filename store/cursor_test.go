package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCursorOrMiss(t *testing.T) {
	s := NewMemoryStore[int64]()
	t.Cleanup(func() { _ = s.Close() })

	got := LoadCursorOr(context.Background(), s, "topic://t|A", 42)
	assert.Equal(t, int64(42), got)
}

func TestLoadCursorOrHit(t *testing.T) {
	s := NewMemoryStore[int64]()
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Save(context.Background(), "topic://t|A", 7))
	got := LoadCursorOr(context.Background(), s, "topic://t|A", 42)
	assert.Equal(t, int64(7), got)
}

func TestLoadCursorOrNilStore(t *testing.T) {
	got := LoadCursorOr(context.Background(), nil, "topic://t|A", 9)
	assert.Equal(t, int64(9), got)
}
