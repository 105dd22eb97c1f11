// Package message defines the broker's Message value and its selector
// property adapter.
package message

import (
	"time"

	"github.com/axmq/broker/selector"
)

// Message is a single broker message: a journal-tracked envelope plus an
// opaque body and the property set selectors evaluate against.
type Message struct {
	ID               string
	DestinationURI   string
	BodyType         int
	SubscribersCount int
	Body             []byte
	Properties       map[string]any
	CreatedAt        time.Time
	ExpiryInterval   time.Duration
	MessageExpirySet bool
}

// New builds a Message with CreatedAt set to now. id is the caller-supplied
// unique message id (e.g. a google/uuid string); properties may be nil.
func New(id, destinationURI string, bodyType int, body []byte, properties map[string]any) *Message {
	if properties == nil {
		properties = make(map[string]any)
	}
	return &Message{
		ID:             id,
		DestinationURI: destinationURI,
		BodyType:       bodyType,
		Body:           body,
		Properties:     properties,
		CreatedAt:      time.Now(),
	}
}

// IsExpired reports whether the message's TTL, if set, has elapsed.
func (m *Message) IsExpired() bool {
	if !m.MessageExpirySet || m.ExpiryInterval <= 0 {
		return false
	}
	return time.Since(m.CreatedAt) >= m.ExpiryInterval
}

// Property implements selector.PropertySource by resolving name against the
// message's property bag; a missing property evaluates to selector.Unknown.
func (m *Message) Property(name string) selector.Value {
	if m == nil || m.Properties == nil {
		return selector.Unknown
	}
	v, ok := m.Properties[name]
	if !ok {
		return selector.Unknown
	}
	return toSelectorValue(v)
}

func toSelectorValue(v any) selector.Value {
	switch t := v.(type) {
	case bool:
		return selector.BoolValue(t)
	case string:
		return selector.StringValue(t)
	case int:
		return selector.ExactValue(int64(t))
	case int32:
		return selector.ExactValue(int64(t))
	case int64:
		return selector.ExactValue(t)
	case float32:
		return selector.InexactValue(float64(t))
	case float64:
		return selector.InexactValue(t)
	default:
		return selector.Unknown
	}
}

// Clone returns a deep copy of m, used when a message must be staged
// independently of the copy already resident in a destination's buffer.
func (m *Message) Clone() *Message {
	body := make([]byte, len(m.Body))
	copy(body, m.Body)

	properties := make(map[string]any, len(m.Properties))
	for k, v := range m.Properties {
		properties[k] = v
	}

	return &Message{
		ID:               m.ID,
		DestinationURI:   m.DestinationURI,
		BodyType:         m.BodyType,
		SubscribersCount: m.SubscribersCount,
		Body:             body,
		Properties:       properties,
		CreatedAt:        m.CreatedAt,
		ExpiryInterval:   m.ExpiryInterval,
		MessageExpirySet: m.MessageExpirySet,
	}
}

// Ref is one entry in a destination's durable message log: the message id
// in send order plus an optional in-memory copy of the body. Cursor-based
// readers (subscriptions) advance through a sequence of Refs without
// necessarily holding every Msg in memory at once.
type Ref struct {
	MessageID  string
	SequenceNo int64
	Msg        *Message
}
