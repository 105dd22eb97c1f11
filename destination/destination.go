package destination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axmq/broker/message"
	"github.com/axmq/broker/storage"
	"github.com/axmq/broker/store"
	"github.com/axmq/broker/substore"
)

// stagedSend is one message buffered inside an open destination-level
// transaction, pending Commit or Abort. sess/txName identify the already
// open storage transaction (named by the message id) that guards the
// journal row Exchange.SaveMessage inserted for this message.
type stagedSend struct {
	sess   *storage.Session
	txName string
	msg    *message.Message
}

// Destination is a queue or topic: its subscription set, sender set,
// durable message log, and the transactional staging that keeps in-flight
// sends invisible until commit.
type Destination struct {
	id        string
	name      string
	typ       Type
	createdAt time.Time
	uri       string
	owner     *string

	hub   Hub
	table string

	mu            sync.Mutex
	subscriptions map[string]*Subscription
	senders       map[string]*Sender
	// log is the in-memory durable log: the authoritative index space for
	// subscription cursors. The SQL table backing it is the actual
	// durable, crash-surviving copy and is where row-level deletes happen
	// once a message is fully acknowledged.
	log         []message.Ref
	nextSeq     int64
	queueCursor int64
	rrIndex     int
	staging     map[string][]stagedSend
}

func (d *Destination) ID() string   { return d.id }
func (d *Destination) Name() string { return d.name }
func (d *Destination) Type() Type   { return d.typ }
func (d *Destination) URI() string  { return d.uri }

// IsTemporary reports whether the destination is a temp-queue/temp-topic.
func (d *Destination) IsTemporary() bool {
	return d.typ == TempQueue || d.typ == TempTopic
}

// HasOwner reports whether the destination has an owning client id.
func (d *Destination) HasOwner() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner != nil
}

// Owner returns the owning client id, or "" if the destination is unowned.
func (d *Destination) Owner() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner == nil {
		return ""
	}
	return *d.owner
}

// IsBindToSubscriber reports whether clientID may attach a new subscription:
// false if the destination is owned by a different client, or if an
// existing EXCLUSIVE subscription belongs to a different client.
func (d *Destination) IsBindToSubscriber(clientID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner != nil && *d.owner != clientID {
		return false
	}
	for _, s := range d.subscriptions {
		if s.Mode == Exclusive && s.ClientID != clientID {
			return false
		}
	}
	return true
}

// IsBindToPublisher reports whether clientID may attach a new sender.
func (d *Destination) IsBindToPublisher(clientID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner != nil && *d.owner != clientID {
		return false
	}
	return true
}

// Subscription registers or re-attaches req on the destination. A durable
// request resumes from its persisted substore.Record when one exists for
// req.Name+req.ClientID, surviving the session that originally created it;
// a non-durable request consults the cursor cache for a faster resume if
// this destination instance has seen the name before, falling back to the
// current log tail for a genuinely new subscription.
func (d *Destination) Subscription(req Request) (*Subscription, error) {
	d.mu.Lock()
	if existing, ok := d.subscriptions[req.Name]; ok {
		existing.SessionID = req.SessionID
		existing.ClientID = req.ClientID
		if req.Consumer != nil {
			existing.SetConsumer(req.Consumer)
		}
		d.mu.Unlock()
		return existing, nil
	}
	d.mu.Unlock()

	if req.Durable {
		return d.attachDurable(req)
	}

	startCursor := store.LoadCursorOr(context.Background(), d.hub.CursorCache(), d.cursorCacheKey(req.Name), d.queueCursorStart())

	sub, err := newSubscription(req, startCursor)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.subscriptions[req.Name] = sub
	d.mu.Unlock()
	return sub, nil
}

// attachDurable loads or creates req's substore.Record, keyed by this
// destination's uri, req.ClientID and req.Name, and installs the resulting
// Subscription at the record's persisted cursor.
func (d *Destination) attachDurable(req Request) (*Subscription, error) {
	sub := d.hub.Substore()
	key := substore.Key{DestinationURI: d.uri, ClientID: req.ClientID, Name: req.Name}

	rec, err := sub.Load(context.Background(), key)
	switch {
	case err == nil:
		// resume at the persisted cursor and selector.
	case errors.Is(err, substore.ErrNotFound):
		rec = &substore.Record{Key: key, Mode: byte(req.Mode), Selector: req.Selector, Cursor: d.queueCursorStart()}
		if saveErr := sub.Save(context.Background(), rec); saveErr != nil {
			return nil, storage.WrapError(storage.KindOnSubscription, "persist durable subscription", req.Name, saveErr)
		}
	default:
		return nil, storage.WrapError(storage.KindOnSubscription, "load durable subscription", req.Name, err)
	}

	s, err := newSubscriptionAt(req, rec.Selector, rec.Cursor)
	if err != nil {
		return nil, err
	}
	s.Mode = Mode(rec.Mode)
	s.Bound = s.Mode != Shared

	d.mu.Lock()
	d.subscriptions[req.Name] = s
	d.mu.Unlock()
	return s, nil
}

// cursorCacheKey returns the cache key a non-durable subscription's cursor
// is written under: this destination's uri plus the subscription name.
func (d *Destination) cursorCacheKey(name string) string {
	return d.uri + "|" + name
}

// persistCursor best-effort writes s's current cursor to the hub's
// cursor cache (non-durable) or substore record (durable), so a later
// re-attach resumes close to where dispatch left off. Failures here never
// surface: the durable log and journal remain the source of truth.
func (d *Destination) persistCursor(s *Subscription) {
	if s.Durable {
		if sub := d.hub.Substore(); sub != nil {
			key := substore.Key{DestinationURI: d.uri, ClientID: s.ClientID, Name: s.Name}
			_ = sub.Save(context.Background(), &substore.Record{Key: key, Mode: byte(s.Mode), Selector: s.selectorExpr, Cursor: s.Cursor})
		}
		return
	}
	if cache := d.hub.CursorCache(); cache != nil {
		_ = cache.Save(context.Background(), d.cursorCacheKey(s.Name), s.Cursor)
	}
}

// queueCursorStart returns the log position a newly created subscription
// should start from: the current log length, so a new subscriber only
// observes messages sent after it attached.
func (d *Destination) queueCursorStart() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.log))
}

// TrueSubscriptionsCount returns the count of non-browser subscriptions,
// the value persisted to the destinations table's subscriptions_count
// column.
func (d *Destination) TrueSubscriptionsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.subscriptions {
		if s.Mode != Browser {
			n++
		}
	}
	return n
}

// RemoveConsumer detaches the named subscription if it belongs to
// sessionID. A durable subscription's persisted record survives this call
// unchanged — its session's consumer goes away, but a later session may
// re-attach to it by name; use Unsubscribe to erase it permanently.
func (d *Destination) RemoveConsumer(sessionID, subscriptionName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.subscriptions[subscriptionName]; ok && s.SessionID == sessionID {
		delete(d.subscriptions, subscriptionName)
	}
}

// Unsubscribe permanently removes subscriptionName from the destination,
// including its durable substore.Record if it has one.
func (d *Destination) Unsubscribe(clientID, subscriptionName string) {
	d.mu.Lock()
	s, ok := d.subscriptions[subscriptionName]
	if ok {
		delete(d.subscriptions, subscriptionName)
	}
	d.mu.Unlock()

	if ok && s.Durable {
		if sub := d.hub.Substore(); sub != nil {
			key := substore.Key{DestinationURI: d.uri, ClientID: clientID, Name: subscriptionName}
			_ = sub.Delete(context.Background(), key)
		}
	}
}

// AddSender attaches a new sender to the destination.
func (d *Destination) AddSender(sessionID, clientID string) *Sender {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Sender{ID: uuid.NewString(), SessionID: sessionID, ClientID: clientID}
	d.senders[s.ID] = s
	return s
}

// RemoveSender detaches the sender with the given id.
func (d *Destination) RemoveSender(senderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.senders, senderID)
}

// RemoveSenderByID removes any sender with the given id regardless of
// session, used when a client disconnects without an explicit unsender.
func (d *Destination) RemoveSenderByID(senderID string) {
	d.RemoveSender(senderID)
}

// RemoveSenders removes every sender belonging to sessionID.
func (d *Destination) RemoveSenders(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, s := range d.senders {
		if s.SessionID == sessionID {
			delete(d.senders, id)
		}
	}
}

// eligibleSnapshotCount computes the subscribers_count snapshot for msg at
// save time: for a QUEUE, at most one subscriber will ever consume a given
// message, so the snapshot is capped at 1; for a TOPIC every matching
// non-browser subscription gets its own copy, so the snapshot is the full
// matching count.
func (d *Destination) eligibleSnapshotCount(msg *message.Message) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.subscriptions {
		if s.Mode == Browser {
			continue
		}
		if s.Matches(msg) {
			n++
		}
	}
	if d.typ == Queue || d.typ == TempQueue {
		if n > 1 {
			n = 1
		}
	}
	return n
}

// Begin opens a destination-scoped transaction for sessionID: subsequent
// Save calls from that session buffer their sends until Commit or Abort.
func (d *Destination) Begin(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.staging[sessionID]; ok {
		return storage.NewError(storage.KindInvalidState, "transaction already open for session", sessionID)
	}
	d.staging[sessionID] = nil
	return nil
}

// Save appends msg to the destination. sess/txName identify the already
// open, message-id-named storage transaction guarding the journal row the
// caller inserted; Save either commits it immediately (auto-commit mode)
// or leaves it open, staged under sessionID, until Commit/Abort.
func (d *Destination) Save(ctx context.Context, sess *storage.Session, txName, sessionID string, msg *message.Message) error {
	msg.SubscribersCount = d.eligibleSnapshotCount(msg)

	if err := d.updateJournalCount(ctx, sess, txName, msg.ID, msg.SubscribersCount); err != nil {
		return err
	}

	if msg.SubscribersCount == 0 {
		if err := d.deleteJournalRow(ctx, sess, txName, msg.ID); err != nil {
			return err
		}
		return sess.CommitTX(txName)
	}

	d.mu.Lock()
	staged, transactional := d.staging[sessionID]
	if transactional {
		d.staging[sessionID] = append(staged, stagedSend{sess: sess, txName: txName, msg: msg})
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.appendDurable(ctx, msg); err != nil {
		_ = sess.RollbackTX(txName)
		return err
	}
	if err := sess.CommitTX(txName); err != nil {
		return err
	}
	return nil
}

// Commit makes every message staged under sessionID durable, in send
// order, and clears the staging list.
func (d *Destination) Commit(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	staged := d.staging[sessionID]
	delete(d.staging, sessionID)
	d.mu.Unlock()

	for _, item := range staged {
		if err := d.appendDurable(ctx, item.msg); err != nil {
			_ = item.sess.RollbackTX(item.txName)
			return err
		}
		if err := item.sess.CommitTX(item.txName); err != nil {
			return err
		}
	}
	return nil
}

// Abort discards every message staged under sessionID, rolling back each
// one's storage transaction so its journal row never becomes visible.
func (d *Destination) Abort(sessionID string) error {
	d.mu.Lock()
	staged := d.staging[sessionID]
	delete(d.staging, sessionID)
	d.mu.Unlock()

	var first error
	for _, item := range staged {
		if err := item.sess.RollbackTX(item.txName); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (d *Destination) updateJournalCount(ctx context.Context, sess *storage.Session, txName, messageID string, count int) error {
	journalTable := d.hub.Pool().JournalTable()
	_, err := sess.ExecContext(ctx, txName,
		fmt.Sprintf("UPDATE %s SET subscribers_count = ? WHERE message_id = ?", journalTable), count, messageID)
	if err != nil {
		return storage.WrapError(storage.KindOnSaveMessage, "set subscribers_count snapshot", messageID, err)
	}
	return nil
}

func (d *Destination) deleteJournalRow(ctx context.Context, sess *storage.Session, txName, messageID string) error {
	journalTable := d.hub.Pool().JournalTable()
	_, err := sess.ExecContext(ctx, txName, fmt.Sprintf("DELETE FROM %s WHERE message_id = ?", journalTable), messageID)
	if err != nil {
		return storage.WrapError(storage.KindOnSaveMessage, "delete zero-subscriber journal row", messageID, err)
	}
	return nil
}

func (d *Destination) appendDurable(ctx context.Context, msg *message.Message) error {
	props, err := json.Marshal(msg.Properties)
	if err != nil {
		return storage.WrapError(storage.KindOnSaveMessage, "marshal message properties", msg.ID, err)
	}

	d.mu.Lock()
	seq := d.nextSeq
	d.nextSeq++
	d.mu.Unlock()

	insert := fmt.Sprintf(
		"INSERT INTO %s (seq, message_id, body_type, body, properties) VALUES (?, ?, ?, ?, ?)", d.table)
	if _, err := d.hub.Pool().DB().ExecContext(ctx, insert, seq, msg.ID, msg.BodyType, msg.Body, string(props)); err != nil {
		return storage.WrapError(storage.KindOnSaveMessage, "append destination message", msg.ID, err)
	}

	d.mu.Lock()
	d.log = append(d.log, message.Ref{MessageID: msg.ID, SequenceNo: seq, Msg: msg})
	d.mu.Unlock()

	d.hub.PostNewMessageEvent(d.uri)
	return nil
}

// deleteDurable removes the per-destination durable row for messageID. The
// in-memory log entry is left in place (cursor positions index into it);
// only its SQL row is reclaimed. Compacting the in-memory slice once every
// subscription has passed a prefix is a known follow-up, not yet needed at
// the scale this broker targets.
func (d *Destination) deleteDurable(ctx context.Context, messageID string) error {
	_, err := d.hub.Pool().DB().ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE message_id = ?", d.table), messageID)
	if err != nil {
		return storage.WrapError(storage.KindStorage, "delete destination message", messageID, err)
	}
	return nil
}

// Info returns a point-in-time snapshot of the destination.
func (d *Destination) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		ID:                 d.id,
		Name:               d.name,
		Type:               d.typ,
		Created:            d.createdAt,
		URI:                d.uri,
		DataPath:           MainDestinationPath(d.uri),
		SubscriptionsCount: d.trueSubscriptionsCountLocked(),
		MessagesCount:      len(d.log),
	}
}

func (d *Destination) trueSubscriptionsCountLocked() int {
	n := 0
	for _, s := range d.subscriptions {
		if s.Mode != Browser {
			n++
		}
	}
	return n
}
