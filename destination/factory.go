package destination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/axmq/broker/storage"
)

// New builds a Destination for uri, inserting its row into the broker's
// destinations table and creating its per-destination durable message
// table. uri must contain a scheme; ownerClientID is non-empty only for
// temp-queue/temp-topic destinations, whose lifetime is bound to the
// client that created them.
func New(hub Hub, uri, ownerClientID string) (*Destination, error) {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return nil, storage.NewError(storage.KindInvalidState, "destination uri missing scheme", uri)
	}
	scheme := uri[:idx]
	name := uri[idx+3:]
	t, ok := schemeType(scheme)
	if !ok {
		return nil, storage.NewError(storage.KindInvalidState, "unrecognized destination scheme", scheme)
	}

	id := uuid.NewString()
	d := &Destination{
		id:            id,
		name:          name,
		typ:           t,
		createdAt:     time.Now(),
		uri:           scheme + "://" + name,
		hub:           hub,
		subscriptions: make(map[string]*Subscription),
		senders:       make(map[string]*Sender),
		staging:       make(map[string][]stagedSend),
		table:         "dest_" + strings.ReplaceAll(id, "-", "_"),
	}
	if ownerClientID != "" && (t == TempQueue || t == TempTopic) {
		d.owner = &ownerClientID
	}

	ctx := context.Background()
	pool := hub.Pool()

	insertDest := fmt.Sprintf(
		`INSERT INTO %s_destinations (id, name, type, subscriptions_count) VALUES (?, ?, ?, 0)`,
		hub.BrokerID())
	if _, err := pool.DB().ExecContext(ctx, insertDest, d.id, d.name, int(d.typ)); err != nil {
		return nil, storage.WrapError(storage.KindStorage, "insert destination row", uri, err)
	}

	msgDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq INTEGER PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		body_type INT,
		body BLOB,
		properties TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, d.table)
	if _, err := pool.DB().ExecContext(ctx, msgDDL); err != nil {
		return nil, storage.WrapError(storage.KindStorage, "create destination message table", d.table, err)
	}

	return d, nil
}
