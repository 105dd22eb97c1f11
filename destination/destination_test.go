package destination

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axmq/broker/message"
	"github.com/axmq/broker/metrics"
	"github.com/axmq/broker/storage"
	"github.com/axmq/broker/store"
	"github.com/axmq/broker/substore"
)

type testHub struct {
	pool   *storage.Pool
	events []string
	subs   substore.Store
	cache  store.Store[int64]
}

func (h *testHub) PostNewMessageEvent(uri string)   { h.events = append(h.events, uri) }
func (h *testHub) Pool() *storage.Pool              { return h.pool }
func (h *testHub) BrokerID() string                 { return "broker" }
func (h *testHub) Substore() substore.Store         { return h.subs }
func (h *testHub) CursorCache() store.Store[int64]  { return h.cache }
func (h *testHub) Metrics() metrics.Recorder        { return metrics.Noop() }

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Backend = storage.BackendSQLiteNative
	cfg.DSN = "file::memory:?cache=shared"
	cfg.MaxOpenConns = 1
	pool, err := storage.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return &testHub{pool: pool, subs: substore.NewMemoryStore(), cache: store.NewMemoryStore[int64]()}
}

type recordingConsumer struct {
	received []*message.Message
	accept   bool
}

func (c *recordingConsumer) Push(msg *message.Message) bool {
	if !c.accept {
		return false
	}
	c.received = append(c.received, msg)
	return true
}

// saveViaFacade mimics Exchange.SaveMessage: insert the global journal row
// inside a transaction named by the message id, then hand off to
// Destination.Save which decides whether to commit it now or stage it.
func saveViaFacade(t *testing.T, hub *testHub, dest *Destination, sessionID string, msg *message.Message) {
	t.Helper()
	ctx := context.Background()
	sess, err := hub.pool.Acquire(ctx)
	require.NoError(t, err)
	defer hub.pool.Release(sess)

	require.NoError(t, sess.BeginTX(ctx, msg.ID))
	_, err = sess.ExecContext(ctx, msg.ID,
		fmt.Sprintf("INSERT INTO %s (message_id, uri, body_type, subscribers_count) VALUES (?, ?, ?, ?)", hub.pool.JournalTable()),
		msg.ID, msg.DestinationURI, msg.BodyType, 0)
	require.NoError(t, err)

	require.NoError(t, dest.Save(ctx, sess, msg.ID, sessionID, msg))
}

func journalCount(t *testing.T, hub *testHub, messageID string) (int, bool) {
	t.Helper()
	row := hub.pool.DB().QueryRowContext(context.Background(),
		fmt.Sprintf("SELECT subscribers_count FROM %s WHERE message_id = ?", hub.pool.JournalTable()), messageID)
	var n int
	err := row.Scan(&n)
	if err != nil {
		return 0, false
	}
	return n, true
}

func TestQueueSingleDelivery(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "queue://q", "")
	require.NoError(t, err)

	a := &recordingConsumer{accept: true}
	b := &recordingConsumer{accept: true}
	_, err = dest.Subscription(Request{Name: "A", ClientID: "c1", Mode: Shared, Consumer: a})
	require.NoError(t, err)
	_, err = dest.Subscription(Request{Name: "B", ClientID: "c2", Mode: Shared, Consumer: b})
	require.NoError(t, err)

	msg := message.New("m1", "queue://q", 0, nil, nil)
	saveViaFacade(t, hub, dest, "sess1", msg)

	count, ok := journalCount(t, hub, "m1")
	require.True(t, ok)
	require.Equal(t, 1, count)

	progressed := dest.GetNextMessageForAllSubscriptions(context.Background())
	require.True(t, progressed)

	totalReceived := len(a.received) + len(b.received)
	require.Equal(t, 1, totalReceived)

	_, ok = journalCount(t, hub, "m1")
	require.False(t, ok, "journal row should be deleted after the sole consumer acks")
}

func TestTopicFanOut(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "topic://t", "")
	require.NoError(t, err)

	a := &recordingConsumer{accept: true}
	b := &recordingConsumer{accept: true}
	_, err = dest.Subscription(Request{Name: "A", ClientID: "c1", Mode: Shared, Consumer: a})
	require.NoError(t, err)
	_, err = dest.Subscription(Request{Name: "B", ClientID: "c2", Mode: Shared, Consumer: b})
	require.NoError(t, err)

	msg := message.New("m1", "topic://t", 0, nil, nil)
	saveViaFacade(t, hub, dest, "sess1", msg)

	count, ok := journalCount(t, hub, "m1")
	require.True(t, ok)
	require.Equal(t, 2, count)

	ctx := context.Background()
	require.True(t, dest.GetNextMessageForAllSubscriptions(ctx))

	require.Len(t, a.received, 1)
	require.Len(t, b.received, 1)

	count, ok = journalCount(t, hub, "m1")
	require.False(t, ok, "the journal row is deleted once its count reaches zero")
	require.Equal(t, 0, count)
}

func TestSelectorUnknownExcludesSubscriber(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "topic://t", "")
	require.NoError(t, err)

	a := &recordingConsumer{accept: true}
	_, err = dest.Subscription(Request{Name: "A", ClientID: "c1", Mode: Shared, Selector: "price > 10", Consumer: a})
	require.NoError(t, err)

	msg := message.New("m1", "topic://t", 0, nil, nil) // no "price" property
	saveViaFacade(t, hub, dest, "sess1", msg)

	_, ok := journalCount(t, hub, "m1")
	require.False(t, ok, "zero eligible subscribers means the journal row never becomes visible")

	dest.GetNextMessageForAllSubscriptions(context.Background())
	require.Empty(t, a.received)
}

func TestTransactionalStagingHidesUntilCommit(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "queue://q", "")
	require.NoError(t, err)

	a := &recordingConsumer{accept: true}
	_, err = dest.Subscription(Request{Name: "A", ClientID: "c1", Mode: Shared, Consumer: a})
	require.NoError(t, err)

	require.NoError(t, dest.Begin("sess1"))

	msg := message.New("m1", "queue://q", 0, nil, nil)
	saveViaFacade(t, hub, dest, "sess1", msg)

	require.False(t, dest.GetNextMessageForAllSubscriptions(context.Background()), "staged message must not be visible before commit")
	require.Empty(t, a.received)

	require.NoError(t, dest.Commit(context.Background(), "sess1"))

	require.True(t, dest.GetNextMessageForAllSubscriptions(context.Background()))
	require.Len(t, a.received, 1)
}

func TestTransactionalAbortLeavesNoJournalRow(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "queue://q", "")
	require.NoError(t, err)

	_, err = dest.Subscription(Request{Name: "A", ClientID: "c1", Mode: Shared, Consumer: &recordingConsumer{accept: true}})
	require.NoError(t, err)

	require.NoError(t, dest.Begin("sess1"))
	msg := message.New("m1", "queue://q", 0, nil, nil)
	saveViaFacade(t, hub, dest, "sess1", msg)

	require.NoError(t, dest.Abort("sess1"))

	_, ok := journalCount(t, hub, "m1")
	require.False(t, ok, "abort must leave zero journal rows for the staged message")
}

func TestDurableSubscriptionResumesAcrossSessions(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "topic://t", "")
	require.NoError(t, err)

	first := &recordingConsumer{accept: true}
	sub, err := dest.Subscription(Request{Name: "durable-a", SessionID: "sess1", ClientID: "c1", Mode: Shared, Durable: true, Consumer: first})
	require.NoError(t, err)
	require.True(t, sub.Durable)

	msg := message.New("m1", "topic://t", 0, nil, nil)
	saveViaFacade(t, hub, dest, "sess1", msg)
	require.True(t, dest.GetNextMessageForAllSubscriptions(context.Background()))
	require.Len(t, first.received, 1)

	// A new session detaches the consumer without erasing the durable
	// registration; re-attaching by name resumes past the message already
	// delivered rather than replaying it.
	dest.RemoveConsumer("sess1", "durable-a")

	second := &recordingConsumer{accept: true}
	resumed, err := dest.Subscription(Request{Name: "durable-a", ClientID: "c1", Mode: Shared, Durable: true, Consumer: second})
	require.NoError(t, err)
	require.Equal(t, sub.Cursor, resumed.Cursor)

	msg2 := message.New("m2", "topic://t", 0, nil, nil)
	saveViaFacade(t, hub, dest, "sess2", msg2)
	require.True(t, dest.GetNextMessageForAllSubscriptions(context.Background()))
	require.Len(t, second.received, 1, "the resumed subscription picks up where the durable cursor left off")
	require.Len(t, first.received, 1, "the detached original consumer must not receive the new message")

	// Unsubscribe erases the durable record; a later re-attach starts fresh.
	dest.Unsubscribe("c1", "durable-a")
	_, err = hub.subs.Load(context.Background(), substore.Key{DestinationURI: "topic://t", ClientID: "c1", Name: "durable-a"})
	require.ErrorIs(t, err, substore.ErrNotFound)
}

func TestNonDurableDispatchWritesCursorCache(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "topic://t", "")
	require.NoError(t, err)

	a := &recordingConsumer{accept: true}
	_, err = dest.Subscription(Request{Name: "A", ClientID: "c1", Mode: Shared, Consumer: a})
	require.NoError(t, err)

	msg := message.New("m1", "topic://t", 0, nil, nil)
	saveViaFacade(t, hub, dest, "sess1", msg)
	require.True(t, dest.GetNextMessageForAllSubscriptions(context.Background()))
	require.Len(t, a.received, 1)

	cached, err := hub.cache.Load(context.Background(), "topic://t|A")
	require.NoError(t, err)
	require.Equal(t, int64(1), cached)
}

func TestTempDestinationOwnerBinding(t *testing.T) {
	hub := newTestHub(t)
	dest, err := New(hub, "temp-queue://x", "c1")
	require.NoError(t, err)

	require.True(t, dest.HasOwner())
	require.Equal(t, "c1", dest.Owner())
	require.False(t, dest.IsBindToSubscriber("c2"))
	require.True(t, dest.IsBindToSubscriber("c1"))
}
