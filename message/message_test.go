package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/axmq/broker/selector"
)

func TestPropertyMissingIsUnknown(t *testing.T) {
	m := New("m1", "queue://q", 0, nil, nil)
	assert.True(t, selector.IsUnknown(m.Property("price")))
}

func TestPropertyResolvesTypedValues(t *testing.T) {
	m := New("m1", "queue://q", 0, nil, map[string]any{
		"price":  20,
		"region": "us-east",
	})
	assert.Equal(t, selector.ExactValue(20), m.Property("price"))
	assert.Equal(t, selector.StringValue("us-east"), m.Property("region"))
}

func TestIsExpired(t *testing.T) {
	m := New("m1", "queue://q", 0, nil, nil)
	m.CreatedAt = time.Now().Add(-10 * time.Second)
	m.MessageExpirySet = true
	m.ExpiryInterval = 5 * time.Second
	assert.True(t, m.IsExpired())

	m.ExpiryInterval = time.Hour
	assert.False(t, m.IsExpired())
}

func TestCloneIsIndependent(t *testing.T) {
	m := New("m1", "queue://q", 0, []byte("payload"), map[string]any{"price": 10})
	c := m.Clone()
	c.Body[0] = 'X'
	c.Properties["price"] = 99

	assert.Equal(t, byte('p'), m.Body[0])
	assert.Equal(t, 10, m.Properties["price"])
}
