package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/axmq/broker/destination"
	"github.com/axmq/broker/message"
	"github.com/axmq/broker/storage"
)

func newTestExchange(t *testing.T) *Exchange {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Backend = storage.BackendSQLiteNative
	cfg.DSN = "file::memory:?cache=shared"
	cfg.MaxOpenConns = 1
	pool, err := storage.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	ex := New(pool, Config{WorkerCount: 2})
	return ex
}

func newSession(t *testing.T, ex *Exchange, id string) *Session {
	t.Helper()
	sess, err := ex.pool.Acquire(context.Background())
	require.NoError(t, err)
	return &Session{ID: id, DB: sess}
}

func TestCreateOrGetRaceReturnsSameInstance(t *testing.T) {
	ex := newTestExchange(t)

	const n = 16
	results := make([]*destination.Destination, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			d, err := ex.Destination("queue://q1", destination.Create)
			require.NoError(t, err)
			results[i] = d
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, results[0], results[i])
	}

	var count int
	row := ex.pool.DB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM broker_destinations WHERE name = ? AND type = ?", "q1", int(destination.Queue))
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

type fakeConsumer struct {
	mu       sync.Mutex
	received []*message.Message
}

func (c *fakeConsumer) Push(msg *message.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, msg)
	return true
}

func (c *fakeConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func TestSaveMessageDispatchesViaWorkerPool(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	_, err := ex.Destination("queue://q", destination.Create)
	require.NoError(t, err)

	consumer := &fakeConsumer{}
	_, err = ex.AddSubscription(ctx, "queue://q", destination.Request{
		Name: "A", ClientID: "c1", Mode: destination.Shared, Consumer: consumer,
	})
	require.NoError(t, err)

	ex.Start()
	defer ex.Stop()

	sess := newSession(t, ex, "sess1")
	msg := message.New("m1", "queue://q", 0, nil, nil)
	require.NoError(t, ex.SaveMessage(ctx, sess, msg))
	ex.pool.Release(sess.DB)

	require.Eventually(t, func() bool {
		return consumer.count() == 1
	}, 1500*time.Millisecond, 10*time.Millisecond, "postNewMessageEvent must be observed within 1.5s")
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {}
func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

type panicConsumer struct{}

func (panicConsumer) Push(*message.Message) bool { panic("boom") }

func TestWorkerPoolRecoversConsumerPanic(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.Backend = storage.BackendSQLiteNative
	cfg.DSN = "file::memory:?cache=shared"
	cfg.MaxOpenConns = 1
	pool, err := storage.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	log := &recordingLogger{}
	ex := New(pool, Config{WorkerCount: 1, Logger: log})
	ctx := context.Background()

	_, err = ex.Destination("queue://panicky", destination.Create)
	require.NoError(t, err)
	_, err = ex.AddSubscription(ctx, "queue://panicky", destination.Request{
		Name: "A", ClientID: "c1", Mode: destination.Shared, Consumer: panicConsumer{},
	})
	require.NoError(t, err)

	ex.Start()
	defer ex.Stop()

	sess := newSession(t, ex, "sess1")
	msg := message.New("m1", "queue://panicky", 0, nil, nil)
	require.NoError(t, ex.SaveMessage(ctx, sess, msg))
	ex.pool.Release(sess.DB)

	require.Eventually(t, func() bool {
		return log.count() > 0
	}, 1500*time.Millisecond, 10*time.Millisecond, "a recovered consumer panic must be logged, and the worker must keep running")
}

func TestAddSubscriptionRejectsIncompatibleBinding(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	_, err := ex.Destination("queue://excl", destination.Create)
	require.NoError(t, err)

	_, err = ex.AddSubscription(ctx, "queue://excl", destination.Request{
		Name: "A", ClientID: "c1", Mode: destination.Exclusive, Consumer: &fakeConsumer{},
	})
	require.NoError(t, err)

	_, err = ex.AddSubscription(ctx, "queue://excl", destination.Request{
		Name: "B", ClientID: "c2", Mode: destination.Shared, Consumer: &fakeConsumer{},
	})
	require.Error(t, err)
	var be *storage.BrokerError
	require.ErrorAs(t, err, &be)
	require.Equal(t, storage.KindOnSubscription, be.Kind)
}

func TestTransactionalAbortThenCommit(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	_, err := ex.Destination("queue://tx", destination.Create)
	require.NoError(t, err)

	consumer := &fakeConsumer{}
	_, err = ex.AddSubscription(ctx, "queue://tx", destination.Request{
		Name: "A", ClientID: "c1", Mode: destination.Shared, Consumer: consumer,
	})
	require.NoError(t, err)

	sess := newSession(t, ex, "sess1")
	defer ex.pool.Release(sess.DB)

	require.NoError(t, ex.Begin(sess, "queue/tx"))

	m1 := message.New("m1", "queue://tx", 0, nil, nil)
	require.NoError(t, ex.SaveMessage(ctx, sess, m1))

	require.NoError(t, ex.Abort(sess, "queue/tx"))

	var journalCount int
	row := ex.pool.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM message_journal WHERE message_id = ?", "m1")
	require.NoError(t, row.Scan(&journalCount))
	require.Equal(t, 0, journalCount)

	require.NoError(t, ex.Begin(sess, "queue/tx"))
	m2 := message.New("m2", "queue://tx", 0, nil, nil)
	require.NoError(t, ex.SaveMessage(ctx, sess, m2))
	require.NoError(t, ex.Commit(ctx, sess, "queue/tx"))

	dest, err := ex.Destination("queue/tx", destination.NoCreate)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return dest.GetNextMessageForAllSubscriptions(ctx)
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, consumer.count())
}
