// Package destination implements queues and topics: the per-destination
// message buffer, subscription set, transactional staging, selector
// matching and per-subscriber cursor described by the broker core.
package destination

import (
	"strings"

	"github.com/axmq/broker/metrics"
	"github.com/axmq/broker/storage"
	"github.com/axmq/broker/store"
	"github.com/axmq/broker/substore"
)

// Type is the kind of a destination.
type Type int

const (
	Queue Type = iota
	Topic
	TempQueue
	TempTopic
)

func (t Type) String() string {
	switch t {
	case Queue:
		return "QUEUE"
	case Topic:
		return "TOPIC"
	case TempQueue:
		return "TEMP_QUEUE"
	case TempTopic:
		return "TEMP_TOPIC"
	default:
		return "UNKNOWN"
	}
}

// prefix is the internal key segment used for mainDestinationPath, one per
// Type, matching the configured constant per type in the original broker.
func (t Type) prefix() string {
	switch t {
	case Queue:
		return "queue"
	case Topic:
		return "topic"
	case TempQueue:
		return "temp_queue"
	case TempTopic:
		return "temp_topic"
	default:
		return "unknown"
	}
}

func schemeType(scheme string) (Type, bool) {
	switch scheme {
	case "queue":
		return Queue, true
	case "topic":
		return Topic, true
	case "temp-queue":
		return TempQueue, true
	case "temp-topic":
		return TempTopic, true
	default:
		return 0, false
	}
}

// MainDestinationPath normalizes a URI of the form "scheme://name" to the
// internal key "<prefix>/<name>". A value without "://" is assumed to
// already be a key and is returned unchanged. Idempotent: applying it twice
// equals applying it once.
func MainDestinationPath(uri string) string {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return uri
	}
	scheme := uri[:idx]
	name := uri[idx+3:]
	t, ok := schemeType(scheme)
	if !ok {
		return uri
	}
	return t.prefix() + "/" + name
}

// CreationMode controls whether Exchange.Destination may fabricate a
// missing destination.
type CreationMode int

const (
	NoCreate CreationMode = iota
	Create
)

// Hub is the narrow interface a Destination borrows from its owning
// Exchange. A Destination never owns or outlives its Exchange; it is handed
// a Hub so that dispatch events can be raised without a back-reference
// cycle between Exchange and Destination.
type Hub interface {
	PostNewMessageEvent(uri string)
	Pool() *storage.Pool
	BrokerID() string

	// Substore returns the durable-subscription store, or nil if the
	// broker was not configured with one, in which case subscriptions
	// are in-memory only and do not survive a restart.
	Substore() substore.Store

	// CursorCache returns the optional read-through cache consulted when a
	// non-durable subscription re-attaches under a name already seen by
	// this destination instance, letting it resume near where it left off
	// without a journal round trip. Returns nil if not configured, in
	// which case a re-attaching subscription starts at the current log
	// tail like any brand-new one.
	CursorCache() store.Store[int64]

	// Metrics returns the Recorder dispatch and acknowledgement record
	// activity through. Never nil.
	Metrics() metrics.Recorder
}
