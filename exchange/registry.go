// Package exchange is the broker's public facade: the in-memory destination
// registry, the dispatch worker pool, and the entry points a front-end
// session calls (SaveMessage, AddSubscription, Begin/Commit/Abort, ...).
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/axmq/broker/destination"
	"github.com/axmq/broker/storage"
)

// registry is the thread-safe key -> Destination map. Readers are every
// lookup and dispatch sweep; the writer lock is held only by create and
// drop, matching the reader/writer split the broker core requires.
type registry struct {
	mu    sync.RWMutex
	items map[string]*destination.Destination
}

func newRegistry() *registry {
	return &registry{items: make(map[string]*destination.Destination)}
}

// get resolves uri to its Destination. NoCreate fails with KindNotFound
// when absent; Create double-checks under a write lock before building a
// new Destination so concurrent creators of the same uri converge on one
// instance.
func (r *registry) get(hub destination.Hub, uri, ownerClientID string, mode destination.CreationMode) (*destination.Destination, error) {
	key := destination.MainDestinationPath(uri)
	if !strings.Contains(uri, "://") {
		uri = key
	}

	if mode == destination.NoCreate {
		r.mu.RLock()
		defer r.mu.RUnlock()
		d, ok := r.items[key]
		if !ok {
			return nil, storage.NewError(storage.KindNotFound, "destination not found", key)
		}
		return d, nil
	}

	r.mu.RLock()
	if d, ok := r.items[key]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.items[key]; ok {
		return d, nil
	}
	d, err := destination.New(hub, uri, ownerClientID)
	if err != nil {
		return nil, err
	}
	r.items[key] = d
	return d, nil
}

// lookup returns the Destination for key under the registry's read lock,
// used by the worker loop's targeted drain and full sweep.
func (r *registry) lookup(key string) (*destination.Destination, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[key]
	return d, ok
}

// forEach invokes fn for every destination under the registry's read lock.
func (r *registry) forEach(fn func(*destination.Destination)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.items {
		fn(d)
	}
}

// drop removes key iff owner is empty, or the destination has an owner
// matching it.
func (r *registry) drop(key, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[key]
	if !ok {
		return
	}
	if owner == "" || (d.HasOwner() && d.Owner() == owner) {
		delete(r.items, key)
	}
}

// infoSnapshot collects every in-memory destination's Info under the read
// lock, keyed by name, for union with the persisted destinations table.
func (r *registry) infoSnapshot() map[string]destination.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]destination.Info, len(r.items))
	for _, d := range r.items {
		info := d.Info()
		out[info.Name] = info
	}
	return out
}

// info implements Exchange.info(): union the in-memory set with the
// persisted destinations table, de-duplicated by name, ordered by the
// admin UI's historical "group by name-length-if-name-contains-a-digit"
// contract. This ordering is a compatibility contract with the admin UI,
// not a design choice — preserve it rather than "fixing" it.
func (r *registry) info(ctx context.Context, pool *storage.Pool, brokerID string) ([]destination.Info, error) {
	group := make(map[int][]destination.Info)
	seen := make(map[string]bool)

	byName := r.infoSnapshot()
	for _, info := range byName {
		sz := 0
		if containsDigit(info.Name) {
			sz = len(info.Name)
		}
		group[sz] = append(group[sz], info)
		seen[info.Name] = true
	}

	rows, err := pool.DB().QueryContext(ctx,
		fmt.Sprintf("SELECT id, name, type, create_time FROM %s_destinations", brokerID))
	if err != nil {
		return nil, storage.WrapError(storage.KindStorage, "list persisted destinations", brokerID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var info destination.Info
		var typ int
		var createdRaw string
		if err := rows.Scan(&info.ID, &info.Name, &typ, &createdRaw); err != nil {
			return nil, storage.WrapError(storage.KindStorage, "scan destination row", brokerID, err)
		}
		info.Type = destination.Type(typ)
		if t, perr := time.Parse(time.RFC3339, createdRaw); perr == nil {
			info.Created = t
		} else if t, perr := time.Parse("2006-01-02 15:04:05", createdRaw); perr == nil {
			info.Created = t
		}
		if info.Name == "" || info.ID == "" || seen[info.Name] {
			continue
		}
		seen[info.Name] = true
		info.URI = strings.ReplaceAll(strings.ToLower(info.Type.String()), "_", "-") + "://" + info.Name
		info.DataPath = destination.MainDestinationPath(info.URI)

		sz := 0
		if containsDigit(info.Name) {
			sz = len(info.Name)
		}
		group[sz] = append(group[sz], info)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapError(storage.KindStorage, "iterate destination rows", brokerID, err)
	}

	keys := make([]int, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var out []destination.Info
	for _, k := range keys {
		items := group[k]
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
		out = append(out, items...)
	}
	return out, nil
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
