package destination

import (
	"context"
	"fmt"
)

// GetNextMessageForAllSubscriptions attempts to advance dispatch for every
// eligible subscription, delivering at most one message per subscription.
// It returns true if any dispatch occurred, telling the caller's worker
// loop to keep looping rather than fall back to waiting.
func (d *Destination) GetNextMessageForAllSubscriptions(ctx context.Context) bool {
	switch d.typ {
	case Queue, TempQueue:
		return d.dispatchQueue(ctx)
	default:
		return d.dispatchTopic(ctx)
	}
}

// dispatchQueue advances BROWSER subscriptions along their own cursors and
// delivers the next undelivered message to exactly one eligible non-browser
// subscriber: an EXCLUSIVE subscriber if one matches, otherwise a SHARED
// subscriber chosen round-robin among matching candidates. It returns true
// if either step made progress.
func (d *Destination) dispatchQueue(ctx context.Context) bool {
	progressed := d.dispatchQueueBrowsers()
	if d.dispatchQueueDelivery(ctx) {
		progressed = true
	}
	return progressed
}

// dispatchQueueBrowsers advances every BROWSER subscription along its own
// cursor into the durable log, independent of d.queueCursor/d.rrIndex:
// browsing never competes for or consumes the single delivery a queue
// grants to its non-browser subscribers.
func (d *Destination) dispatchQueueBrowsers() bool {
	d.mu.Lock()
	subs := orderedSubscriptions(d.subscriptions)
	d.mu.Unlock()

	progressed := false
	for _, s := range subs {
		if s.Mode != Browser {
			continue
		}
		d.mu.Lock()
		if s.Cursor >= int64(len(d.log)) {
			d.mu.Unlock()
			continue
		}
		entry := d.log[s.Cursor]
		d.mu.Unlock()

		if !s.push(entry.Msg) {
			continue
		}
		d.mu.Lock()
		s.Cursor++
		d.mu.Unlock()
		progressed = true
	}
	return progressed
}

// dispatchQueueDelivery delivers the next undelivered message (by
// d.queueCursor) to exactly one eligible non-browser subscriber.
func (d *Destination) dispatchQueueDelivery(ctx context.Context) bool {
	d.mu.Lock()
	if d.queueCursor >= int64(len(d.log)) {
		d.mu.Unlock()
		return false
	}
	entry := d.log[d.queueCursor]

	var exclusive *Subscription
	var shared []*Subscription
	for _, s := range orderedSubscriptions(d.subscriptions) {
		if s.Mode == Browser || !s.Matches(entry.Msg) {
			continue
		}
		if s.Mode == Exclusive {
			exclusive = s
			break
		}
		shared = append(shared, s)
	}

	var recipient *Subscription
	switch {
	case exclusive != nil:
		recipient = exclusive
	case len(shared) > 0:
		recipient = shared[d.rrIndex%len(shared)]
		d.rrIndex++
	default:
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	if !recipient.push(entry.Msg) {
		return false
	}

	d.mu.Lock()
	d.queueCursor++
	recipient.Cursor = d.queueCursor
	d.mu.Unlock()

	d.persistCursor(recipient)
	d.hub.Metrics().MessageDispatched(d.uri)
	d.ackDelivered(ctx, entry.MessageID)
	return true
}

// dispatchTopic advances each subscription's own cursor by at most one
// message: non-browser subscriptions deliver and decrement the journal
// count on acceptance; browser subscriptions read without decrementing.
func (d *Destination) dispatchTopic(ctx context.Context) bool {
	progressed := false

	d.mu.Lock()
	subs := orderedSubscriptions(d.subscriptions)
	d.mu.Unlock()

	for _, s := range subs {
		d.mu.Lock()
		if s.Cursor >= int64(len(d.log)) {
			d.mu.Unlock()
			continue
		}
		entry := d.log[s.Cursor]
		d.mu.Unlock()

		if s.Mode == Browser {
			if s.push(entry.Msg) {
				d.mu.Lock()
				s.Cursor++
				d.mu.Unlock()
			}
			continue
		}

		if !s.Matches(entry.Msg) {
			d.mu.Lock()
			s.Cursor++
			d.mu.Unlock()
			d.persistCursor(s)
			continue
		}

		if !s.push(entry.Msg) {
			continue
		}

		d.mu.Lock()
		s.Cursor++
		d.mu.Unlock()

		d.persistCursor(s)
		d.hub.Metrics().MessageDispatched(d.uri)
		d.ackDelivered(ctx, entry.MessageID)
		progressed = true
	}

	return progressed
}

// orderedSubscriptions returns subscriptions sorted by name, giving
// dispatch a stable, deterministic iteration order.
func orderedSubscriptions(m map[string]*Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Name > out[j].Name; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ackDelivered decrements the journal row's subscribers_count and, once it
// reaches zero, deletes both the journal row and the destination's own
// durable row for the message.
func (d *Destination) ackDelivered(ctx context.Context, messageID string) {
	pool := d.hub.Pool()
	journalTable := pool.JournalTable()

	_, err := pool.DB().ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET subscribers_count = subscribers_count - 1 WHERE message_id = ? AND subscribers_count > 0", journalTable),
		messageID)
	if err != nil {
		return
	}

	var remaining int
	row := pool.DB().QueryRowContext(ctx,
		fmt.Sprintf("SELECT subscribers_count FROM %s WHERE message_id = ?", journalTable), messageID)
	if err := row.Scan(&remaining); err != nil {
		return
	}
	if remaining > 0 {
		return
	}

	_, _ = pool.DB().ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE message_id = ?", journalTable), messageID)
	_ = d.deleteDurable(ctx, messageID)
	d.hub.Metrics().JournalRowDeleted(d.uri)
}
