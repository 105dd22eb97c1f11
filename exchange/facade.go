package exchange

import (
	"context"
	"fmt"

	"github.com/axmq/broker/destination"
	"github.com/axmq/broker/message"
	"github.com/axmq/broker/metrics"
	"github.com/axmq/broker/storage"
	"github.com/axmq/broker/store"
	"github.com/axmq/broker/substore"
)

// Logger is the logging collaborator the facade and dispatch worker pool
// share: best-effort failures the broker core tolerates (a swallowed
// subscriptions_count update, a recovered worker panic, dispatch progress)
// are reported through it rather than aborting the caller's request. The
// method set matches pkg/logger.Logger, so a *pkg/logger.SlogLogger
// satisfies this interface directly.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}

// Session is a front-end session's handle into the Exchange: the storage
// session backing its transactions, plus the session id that scopes
// destination-level Begin/Commit/Abort staging.
type Session struct {
	ID string
	DB *storage.Session
}

// Config configures an Exchange.
type Config struct {
	WorkerCount int
	Logger      Logger

	// Substore persists durable subscriptions. Defaults to an in-memory
	// substore.Store if nil, so durable subscriptions still resume across
	// a re-Subscription call within the process but not across a restart.
	Substore substore.Store

	// CursorCache is the optional performance cache consulted when a
	// non-durable subscription re-attaches. Defaults to an in-memory
	// store.Store[int64] if nil.
	CursorCache store.Store[int64]

	// Metrics records broker activity as Prometheus series. Defaults to
	// metrics.Noop(), which discards every observation.
	Metrics metrics.Recorder
}

// Exchange is the process-wide registry and dispatch engine: it owns
// destinations, routes inbound messages into destination storage,
// coordinates per-subscription delivery, and drives the dispatch worker
// pool.
type Exchange struct {
	pool        *storage.Pool
	reg         *registry
	workers     *workerPool
	log         Logger
	subs        substore.Store
	cursorCache store.Store[int64]
	metrics     metrics.Recorder
}

// New builds an Exchange over pool. Call Start to launch the dispatch
// worker pool.
func New(pool *storage.Pool, cfg Config) *Exchange {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	subs := cfg.Substore
	if subs == nil {
		subs = substore.NewMemoryStore()
	}
	cache := cfg.CursorCache
	if cache == nil {
		cache = store.NewMemoryStore[int64]()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Noop()
	}
	reg := newRegistry()
	return &Exchange{
		pool:        pool,
		reg:         reg,
		workers:     newWorkerPool(reg, cfg.WorkerCount, rec, logger),
		log:         logger,
		subs:        subs,
		cursorCache: cache,
		metrics:     rec,
	}
}

// Pool implements destination.Hub.
func (e *Exchange) Pool() *storage.Pool { return e.pool }

// BrokerID implements destination.Hub.
func (e *Exchange) BrokerID() string { return e.pool.BrokerID() }

// Substore implements destination.Hub.
func (e *Exchange) Substore() substore.Store { return e.subs }

// CursorCache implements destination.Hub.
func (e *Exchange) CursorCache() store.Store[int64] { return e.cursorCache }

// Metrics implements destination.Hub.
func (e *Exchange) Metrics() metrics.Recorder { return e.metrics }

// PostNewMessageEvent implements destination.Hub: it enqueues the
// destination key derived from uri and wakes the dispatch pool.
func (e *Exchange) PostNewMessageEvent(uri string) {
	key := destination.MainDestinationPath(uri)
	e.workers.postNewMessageEvent(key)
}

// Start launches the dispatch worker pool.
func (e *Exchange) Start() { e.workers.start() }

// Stop idempotently shuts the dispatch worker pool down, waiting for every
// worker to exit.
func (e *Exchange) Stop() { e.workers.stop() }

// Destination resolves uri to a Destination, creating it per mode.
func (e *Exchange) Destination(uri string, mode destination.CreationMode) (*destination.Destination, error) {
	return e.reg.get(e, uri, "", mode)
}

// DestinationWithOwner resolves uri, creating a temp destination owned by
// ownerClientID if it does not yet exist.
func (e *Exchange) DestinationWithOwner(uri, ownerClientID string) (*destination.Destination, error) {
	return e.reg.get(e, uri, ownerClientID, destination.Create)
}

// DropDestination removes the destination identified by key iff owner is
// empty, or matches the destination's recorded owner.
func (e *Exchange) DropDestination(key, owner string) {
	e.reg.drop(key, owner)
}

// Info enumerates destinations, unioning the in-memory set with the
// persisted table, per the admin ordering contract.
func (e *Exchange) Info(ctx context.Context) ([]destination.Info, error) {
	return e.reg.info(ctx, e.pool, e.pool.BrokerID())
}

// SaveMessage resolves msg's destination (NO_CREATE), opens a storage
// transaction named by the message id, inserts the journal row, and
// delegates to the destination. Any storage error re-tags as
// ON_SAVE_MESSAGE and resets the session's DB handle so a broken
// connection is not reused.
func (e *Exchange) SaveMessage(ctx context.Context, sess *Session, msg *message.Message) error {
	dest, err := e.reg.get(e, msg.DestinationURI, "", destination.NoCreate)
	if err != nil {
		return err
	}

	if err := sess.DB.BeginTX(ctx, msg.ID); err != nil {
		e.resetSession(sess)
		return storage.Retag(err, storage.KindOnSaveMessage)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (message_id, uri, body_type, subscribers_count) VALUES (?, ?, ?, ?)", e.pool.JournalTable())
	if _, err := sess.DB.ExecContext(ctx, msg.ID, insert, msg.ID, msg.DestinationURI, msg.BodyType, 0); err != nil {
		_ = sess.DB.RollbackTX(msg.ID)
		e.resetSession(sess)
		return storage.WrapError(storage.KindOnSaveMessage, "insert journal row", msg.ID, err)
	}

	if err := dest.Save(ctx, sess.DB, msg.ID, sess.ID, msg); err != nil {
		e.resetSession(sess)
		return storage.Retag(err, storage.KindOnSaveMessage)
	}
	e.metrics.MessageSaved(dest.URI())
	return nil
}

// resetSession drops sess's storage.Session so the caller acquires a fresh
// connection on its next operation, matching the core's policy that a
// save-path storage error invalidates the session's DB handle.
func (e *Exchange) resetSession(sess *Session) {
	if sess.DB != nil {
		_ = e.pool.Release(sess.DB)
		sess.DB = nil
	}
}

// AddSubscription resolves req's destination (NO_CREATE) and attaches the
// subscription, enforcing the destination's binding policy. The
// subscriptions_count column update is best-effort: a failure there logs
// and does not unwind the already-installed subscription.
func (e *Exchange) AddSubscription(ctx context.Context, uri string, req destination.Request) (*destination.Subscription, error) {
	dest, err := e.reg.get(e, uri, "", destination.NoCreate)
	if err != nil {
		return nil, err
	}
	if !dest.IsBindToSubscriber(req.ClientID) {
		return nil, storage.NewError(storage.KindOnSubscription, "destination bound to another subscriber", dest.Name()+" : "+req.ClientID)
	}
	sub, err := dest.Subscription(req)
	if err != nil {
		return nil, err
	}

	update := fmt.Sprintf("UPDATE %s_destinations SET subscriptions_count = ? WHERE id = ?", e.pool.BrokerID())
	if _, err := e.pool.DB().ExecContext(ctx, update, dest.TrueSubscriptionsCount(), dest.ID()); err != nil {
		e.log.Warn("can't update subscriptions count", "destination", dest.Name(), "error", err)
	}
	return sub, nil
}

// AddSender resolves uri's destination (NO_CREATE) and attaches a sender,
// enforcing the publisher binding policy.
func (e *Exchange) AddSender(uri, sessionID, clientID string) (*destination.Sender, error) {
	dest, err := e.reg.get(e, uri, "", destination.NoCreate)
	if err != nil {
		return nil, err
	}
	if !dest.IsBindToPublisher(clientID) {
		return nil, storage.NewError(storage.KindOnSubscription, "destination bound to another publisher", dest.Name()+" : "+clientID)
	}
	return dest.AddSender(sessionID, clientID), nil
}

// RemoveSender detaches senderID from uri's destination. A missing
// destination is not an error: the original sender removal path tolerates
// a destination that has since been dropped.
func (e *Exchange) RemoveSender(uri, senderID string) {
	dest, err := e.reg.get(e, uri, "", destination.NoCreate)
	if err != nil {
		return
	}
	dest.RemoveSender(senderID)
}

// RemoveSenderFromAnyDest removes senderID from every destination; used
// when an unsender frame carries no destination uri.
func (e *Exchange) RemoveSenderFromAnyDest(senderID string) {
	e.reg.forEach(func(d *destination.Destination) {
		d.RemoveSenderByID(senderID)
	})
}

// RemoveSenders removes every sender belonging to sessionID across all
// destinations, used on session teardown.
func (e *Exchange) RemoveSenders(sessionID string) {
	e.reg.forEach(func(d *destination.Destination) {
		d.RemoveSenders(sessionID)
	})
}

// RemoveConsumer detaches subscriptionName from destinationKey if it
// belongs to sessionID.
func (e *Exchange) RemoveConsumer(sessionID, destinationKey, subscriptionName string) error {
	dest, err := e.reg.get(e, destinationKey, "", destination.NoCreate)
	if err != nil {
		return err
	}
	dest.RemoveConsumer(sessionID, subscriptionName)
	return nil
}

// Begin opens a destination-scoped transaction on sess for destinationKey.
func (e *Exchange) Begin(sess *Session, destinationKey string) error {
	dest, err := e.reg.get(e, destinationKey, "", destination.NoCreate)
	if err != nil {
		return err
	}
	return dest.Begin(sess.ID)
}

// Commit ends sess's transaction on destinationKey, making its staged
// sends durable and visible, then posts a dispatch event so the newly
// committed messages get delivered.
func (e *Exchange) Commit(ctx context.Context, sess *Session, destinationKey string) error {
	dest, err := e.reg.get(e, destinationKey, "", destination.NoCreate)
	if err != nil {
		return err
	}
	if err := dest.Commit(ctx, sess.ID); err != nil {
		return err
	}
	e.PostNewMessageEvent(dest.URI())
	return nil
}

// Abort discards sess's staged sends on destinationKey. It posts a
// dispatch event too, matching the core's behavior of waking workers on
// both transaction outcomes, not only commit.
func (e *Exchange) Abort(sess *Session, destinationKey string) error {
	dest, err := e.reg.get(e, destinationKey, "", destination.NoCreate)
	if err != nil {
		return err
	}
	if err := dest.Abort(sess.ID); err != nil {
		return err
	}
	e.PostNewMessageEvent(dest.URI())
	return nil
}
