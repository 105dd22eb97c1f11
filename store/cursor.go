package store

import "context"

// CursorStore names the Store[int64] instantiation the destination package
// consults as its subscriber-cursor cache, so call sites read "cursor
// cache" rather than a bare generic type.
type CursorStore = Store[int64]

// LoadCursorOr returns the cached cursor for key, or def if the key is
// absent or the store reports any error — a cache miss never fails a
// subscription attach, it just starts the subscriber at def instead of
// the cached position.
func LoadCursorOr(ctx context.Context, s CursorStore, key string, def int64) int64 {
	if s == nil {
		return def
	}
	v, err := s.Load(ctx, key)
	if err != nil {
		return def
	}
	return v
}
