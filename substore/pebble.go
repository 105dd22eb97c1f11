package substore

import (
	"context"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
)

var recordPrefix = []byte("substore:")

// PebbleStore is a Pebble-backed durable-subscription store: records survive
// a broker restart, keyed by destination+client+name and CBOR-encoded on
// disk.
type PebbleStore struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

type PebbleStoreConfig struct {
	Path string
	Opts *pebble.Options
}

func NewPebbleStore(cfg PebbleStoreConfig) (*PebbleStore, error) {
	opts := cfg.Opts
	if opts == nil {
		opts = &pebble.Options{ErrorIfExists: false}
	}
	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func pebbleKey(k Key) []byte {
	s := keyString(k)
	out := make([]byte, len(recordPrefix)+len(s))
	copy(out, recordPrefix)
	copy(out[len(recordPrefix):], s)
	return out
}

func (p *PebbleStore) Save(ctx context.Context, rec *Record) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrStoreClosed
	}
	p.mu.RUnlock()

	value, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return p.db.Set(pebbleKey(rec.Key), value, pebble.Sync)
}

func (p *PebbleStore) Load(ctx context.Context, key Key) (*Record, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	p.mu.RUnlock()

	value, closer, err := p.db.Get(pebbleKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var rec Record
	if err := cbor.Unmarshal(value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PebbleStore) Delete(ctx context.Context, key Key) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrStoreClosed
	}
	p.mu.RUnlock()
	return p.db.Delete(pebbleKey(key), pebble.Sync)
}

func (p *PebbleStore) Exists(ctx context.Context, key Key) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false, ErrStoreClosed
	}
	p.mu.RUnlock()

	_, closer, err := p.db.Get(pebbleKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *PebbleStore) ListByDestination(ctx context.Context, destinationURI string) ([]*Record, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	p.mu.RUnlock()

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: recordPrefix,
		UpperBound: append(append([]byte{}, recordPrefix...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.Key.DestinationURI == destinationURI {
			out = append(out, &rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStoreClosed
	}
	p.closed = true
	return p.db.Close()
}
