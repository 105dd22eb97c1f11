package destination

import (
	"github.com/axmq/broker/message"
	"github.com/axmq/broker/selector"
	"github.com/axmq/broker/storage"
)

// Mode is a subscription's delivery discipline.
type Mode int

const (
	Exclusive Mode = iota
	Shared
	Browser
)

// Consumer is the narrow interface a Subscription pushes messages through.
// The wire-protocol session that actually owns a TCP connection implements
// this; this package never touches sockets or framing.
type Consumer interface {
	// Push offers msg to the consumer. It returns true if the consumer
	// accepted delivery (has credit, is connected); false means dispatch
	// should leave the message pending for a later attempt.
	Push(msg *message.Message) bool
}

// Request describes a caller's ask to attach (or re-attach) a Subscription
// to a Destination.
type Request struct {
	Name      string
	SessionID string
	ClientID  string
	Selector  string
	Mode      Mode
	Consumer  Consumer

	// Durable marks the subscription as surviving the session that created
	// it: its name+clientId is the key a later session re-attaches with,
	// and its cursor is persisted to the destination's substore.Store
	// rather than only held in memory.
	Durable bool
}

// Subscription is a consumer's registration on a Destination.
type Subscription struct {
	Name      string
	SessionID string
	ClientID  string
	Mode      Mode
	Bound     bool
	Durable   bool

	selectorExpr string
	selectorNode selector.Node
	consumer     Consumer

	// Cursor is this subscription's position in the destination's durable
	// log: the index of the next message it has not yet been offered.
	Cursor int64
}

func newSubscription(req Request, startCursor int64) (*Subscription, error) {
	return newSubscriptionAt(req, req.Selector, startCursor)
}

// newSubscriptionAt builds a Subscription at an explicit cursor with an
// explicit selector expression, used when resuming a durable subscription
// from its persisted substore.Record (whose selector may differ from a
// re-attaching request that supplies none).
func newSubscriptionAt(req Request, selectorExpr string, startCursor int64) (*Subscription, error) {
	var node selector.Node
	if selectorExpr != "" {
		n, err := selector.Compile(selectorExpr)
		if err != nil {
			return nil, storage.WrapError(storage.KindOnSubscription, "compile selector", selectorExpr, err)
		}
		node = n
	}
	return &Subscription{
		Name:         req.Name,
		SessionID:    req.SessionID,
		ClientID:     req.ClientID,
		Mode:         req.Mode,
		Bound:        req.Mode != Shared,
		Durable:      req.Durable,
		selectorExpr: selectorExpr,
		selectorNode: node,
		consumer:     req.Consumer,
		Cursor:       startCursor,
	}, nil
}

// Matches reports whether the subscription's selector accepts msg. A
// subscription with no selector matches everything.
func (s *Subscription) Matches(msg *message.Message) bool {
	return selector.Match(s.selectorNode, msg)
}

// SetConsumer attaches or replaces the delivery target, used when a durable
// subscription is re-activated by a new session.
func (s *Subscription) SetConsumer(c Consumer) { s.consumer = c }

// push delivers msg to the subscription's consumer, if any. A nil consumer
// never accepts — dispatch leaves the message pending for a future attempt
// once a consumer attaches.
func (s *Subscription) push(msg *message.Message) bool {
	if s.consumer == nil {
		return false
	}
	return s.consumer.Push(msg)
}
