package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/axmq/broker/pkg/logger"
)

// Backend identifies the SQL driver backing a Pool.
type Backend byte

const (
	BackendNone Backend = iota
	BackendSQLiteNative
	BackendPostgres
	BackendODBCClass
)

func (b Backend) String() string {
	switch b {
	case BackendSQLiteNative:
		return "SQLITE_NATIVE"
	case BackendPostgres:
		return "POSTGRES"
	case BackendODBCClass:
		return "ODBC"
	default:
		return "NONE"
	}
}

// Config configures a connection Pool.
type Config struct {
	Backend      Backend
	DSN          string
	MaxOpenConns int
	BrokerID     string
	JournalTable string

	// Logger receives storage-layer failures at Warn/Error. Defaults to a
	// Logger that discards everything if nil.
	Logger logger.Logger
}

// DefaultConfig returns sane pool defaults; callers still must set Backend
// and DSN.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns: 16,
		BrokerID:     "broker",
		JournalTable: "message_journal",
	}
}

// Pool is a connection pool to the SQL store used by the broker core. It
// wraps a single database/sql.DB — which already pools and serializes
// connection lifecycle — and layers the broker's named-transaction
// protocol (BeginTX/CommitTX/RollbackTX by name) on top, mirroring the
// acquire/release/doNow contract of the original DBMSConnectionPool.
type Pool struct {
	cfg    *Config
	db     *sql.DB
	log    logger.Logger
	nextID atomic.Uint64
}

// Open selects a driver from cfg.Backend, opens the pool, and ensures the
// destinations and message-journal tables exist. An absent or unknown
// backend fails construction with KindStorage, matching the original
// source's exhaustive-switch-throws behavior for NO_TYPE.
func Open(cfg *Config) (*Pool, error) {
	if cfg == nil {
		return nil, NewError(KindStorage, "nil storage configuration", "")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Noop()
	}

	driverName, err := driverFor(cfg.Backend)
	if err != nil {
		log.Error("open storage pool", "error", err)
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		wrapped := WrapError(KindStorage, "open storage backend", cfg.DSN, err)
		log.Error("open storage pool", "error", wrapped)
		return nil, wrapped
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		wrapped := WrapError(KindStorage, "ping storage backend", cfg.DSN, err)
		log.Error("open storage pool", "error", wrapped)
		return nil, wrapped
	}

	p := &Pool{cfg: cfg, db: db, log: log}
	if err := p.migrate(); err != nil {
		db.Close()
		log.Error("migrate storage schema", "error", err)
		return nil, err
	}
	return p, nil
}

func driverFor(b Backend) (string, error) {
	switch b {
	case BackendSQLiteNative:
		return "sqlite", nil
	case BackendPostgres:
		return "postgres", nil
	case BackendODBCClass:
		// No ODBC driver is wired into this build — see DESIGN.md.
		return "", NewError(KindStorage, "ODBC backend has no registered driver in this build", "")
	default:
		return "", NewError(KindStorage, "invalid DBMS backend", b.String())
	}
}

func (p *Pool) destinationsTable() string {
	return fmt.Sprintf("%s_destinations", p.cfg.BrokerID)
}

func (p *Pool) JournalTable() string { return p.cfg.JournalTable }

// BrokerID returns the broker id table names are scoped under.
func (p *Pool) BrokerID() string { return p.cfg.BrokerID }

func (p *Pool) migrate() error {
	destDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type INT NOT NULL,
		create_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		subscriptions_count INT NOT NULL DEFAULT 0,
		UNIQUE (name, type)
	)`, p.destinationsTable())

	journalDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		message_id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		body_type INT,
		subscribers_count INT NOT NULL DEFAULT 0
	)`, p.cfg.JournalTable)

	for _, stmt := range []string{destDDL, journalDDL} {
		if _, err := p.db.Exec(stmt); err != nil {
			return WrapError(KindStorage, "migrate schema", stmt, err)
		}
	}
	return nil
}

// logger returns p.log, or a discarding Logger if the Pool was built
// without one (e.g. constructed directly in a test rather than via Open).
func (p *Pool) logger() logger.Logger {
	if p.log == nil {
		return logger.Noop()
	}
	return p.log
}

// Acquire checks out a Session bound to a dedicated connection from the
// pool. Acquire blocks, via database/sql's own pool semantics, when the
// pool is already at MaxOpenConns and no connection is idle.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		wrapped := WrapError(KindStorage, "acquire connection", "", err)
		p.logger().Error("acquire storage connection", "error", wrapped)
		return nil, wrapped
	}
	return &Session{
		pool: p,
		conn: conn,
		id:   p.nextID.Add(1),
		txs:  make(map[string]*sql.Tx),
	}, nil
}

// Release returns s's connection to the pool. Any transactions left open
// on s are rolled back first so a leaked Session cannot hold a connection
// hostage.
func (p *Pool) Release(s *Session) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	for name, tx := range s.txs {
		if err := tx.Rollback(); err != nil {
			p.logger().Warn("rollback abandoned transaction on release", "session", s.id, "name", name, "error", err)
		}
		delete(s.txs, name)
	}
	s.mu.Unlock()
	if err := s.conn.Close(); err != nil {
		p.logger().Warn("close released connection", "session", s.id, "error", err)
		return err
	}
	return nil
}

// TxMode selects whether DoNow wraps its statement in a transaction.
type TxMode byte

const (
	TxNone TxMode = iota
	TxUse
)

// DoNow executes sql directly against the pool, optionally under a
// transaction named "donow-N", where N comes from a pool-wide monotonic
// counter and is unique per call (Go has no portable thread id to stand
// in for the C++ source's Poco::Thread::currentTid()).
func (p *Pool) DoNow(ctx context.Context, sql string, mode TxMode, args ...any) error {
	sess, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(sess)

	txName := fmt.Sprintf("donow-%d", p.nextID.Add(1))
	if mode == TxUse {
		if err := sess.BeginTX(ctx, txName); err != nil {
			return err
		}
	}

	if _, err := sess.ExecContext(ctx, txName, sql, args...); err != nil {
		if mode == TxUse {
			_ = sess.RollbackTX(txName)
		}
		return WrapError(KindStorage, "execute statement", sql, err)
	}

	if mode == TxUse {
		if err := sess.CommitTX(txName); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying *sql.DB for components (destination storage)
// that need to run their own prepared statements directly against the pool
// without going through a Session's transaction bookkeeping.
func (p *Pool) DB() *sql.DB { return p.db }

// Close closes the pool's underlying database handle.
func (p *Pool) Close() error {
	return p.db.Close()
}
