package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Session is a single checked-out connection plus its set of named, open
// transactions. Destinations and subscriptions each open their own named
// transaction on a shared Session so that, for example, a subscription's
// Begin/Commit/Abort lifecycle (ADR-3) can interleave with other work on
// the same connection without stepping on each other's transaction.
type Session struct {
	pool *Pool
	conn *sql.Conn
	id   uint64

	mu  sync.Mutex
	txs map[string]*sql.Tx
}

// ID returns the session's pool-local identifier, useful for log context.
func (s *Session) ID() uint64 { return s.id }

// BeginTX opens a new transaction under name. Re-using a name that already
// has an open transaction is a caller bug and returns KindInvalidState.
func (s *Session) BeginTX(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[name]; exists {
		return NewError(KindInvalidState, "transaction already open", name)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(KindStorage, "begin transaction", name, err)
	}
	s.txs[name] = tx
	return nil
}

// CommitTX commits the transaction opened under name.
func (s *Session) CommitTX(name string) error {
	s.mu.Lock()
	tx, ok := s.txs[name]
	if ok {
		delete(s.txs, name)
	}
	s.mu.Unlock()
	if !ok {
		return NewError(KindInvalidState, "no open transaction to commit", name)
	}
	if err := tx.Commit(); err != nil {
		return WrapError(KindStorage, "commit transaction", name, err)
	}
	return nil
}

// RollbackTX aborts the transaction opened under name.
func (s *Session) RollbackTX(name string) error {
	s.mu.Lock()
	tx, ok := s.txs[name]
	if ok {
		delete(s.txs, name)
	}
	s.mu.Unlock()
	if !ok {
		return NewError(KindInvalidState, "no open transaction to roll back", name)
	}
	if err := tx.Rollback(); err != nil {
		return WrapError(KindStorage, "rollback transaction", name, err)
	}
	return nil
}

// ExecContext runs sql against the transaction named txName if one is open,
// or directly against the session's connection otherwise.
func (s *Session) ExecContext(ctx context.Context, txName, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	tx, ok := s.txs[txName]
	s.mu.Unlock()
	if ok {
		return tx.ExecContext(ctx, query, args...)
	}
	return s.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query against the transaction named txName if one is
// open, or directly against the session's connection otherwise.
func (s *Session) QueryContext(ctx context.Context, txName, query string, args ...any) (*sql.Rows, error) {
	s.mu.Lock()
	tx, ok := s.txs[txName]
	s.mu.Unlock()
	if ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query against the transaction named
// txName if one is open, or directly against the session's connection
// otherwise.
func (s *Session) QueryRowContext(ctx context.Context, txName, query string, args ...any) *sql.Row {
	s.mu.Lock()
	tx, ok := s.txs[txName]
	s.mu.Unlock()
	if ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.conn.QueryRowContext(ctx, query, args...)
}

func (s *Session) String() string {
	return fmt.Sprintf("session#%d", s.id)
}
