// Package config loads the broker's YAML configuration into typed structs
// feeding the storage pool, the exchange, and the ambient logger, grounded
// on the reference pack's embedded-defaults-plus-yaml.v3 loading style.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/axmq/broker/pkg/logger"
	"github.com/axmq/broker/storage"
)

// Threads configures the dispatch worker pool.
type Threads struct {
	Subscribers int `yaml:"subscribers"`
}

// Connection configures the SQL backend a storage.Pool opens.
type Connection struct {
	DBMSType string `yaml:"dbmsType"`
	DSN      string `yaml:"dsn"`
}

// Storage configures the storage pool and per-destination data layout.
type Storage struct {
	Connection     Connection `yaml:"connection"`
	MessageJournal string     `yaml:"messageJournal"`
	Data           string     `yaml:"data"`
}

// Broker configures broker-wide identity.
type Broker struct {
	ID string `yaml:"id"`
}

// Log configures the ambient structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the broker's complete configuration tree, loaded from a single
// YAML document.
type Config struct {
	Threads Threads `yaml:"threads"`
	Storage Storage `yaml:"storage"`
	Broker  Broker  `yaml:"broker"`
	Log     Log     `yaml:"log"`
}

// Default returns the broker's built-in configuration: a four-worker
// dispatch pool, an in-process SQLite database under ./data, info-level colored logging.
func Default() *Config {
	return &Config{
		Threads: Threads{Subscribers: 4},
		Storage: Storage{
			Connection: Connection{
				DBMSType: "SQLITE_NATIVE",
				DSN:      "file:broker.db?cache=shared",
			},
			MessageJournal: "message_journal",
			Data:           "./data",
		},
		Broker: Broker{ID: "broker"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads and parses the YAML document at path, filling any field the
// document omits from Default().
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// dbmsBackend maps a DBMSType string to the storage package's Backend enum.
// An unset or "NONE" type fails immediately with KindInvalidState rather
// than deferring to storage.Open's generic KindStorage error: a broker with
// no configured backend is a configuration mistake, not a runtime fault.
func dbmsBackend(s string) (storage.Backend, error) {
	switch s {
	case "SQLITE_NATIVE":
		return storage.BackendSQLiteNative, nil
	case "POSTGRES":
		return storage.BackendPostgres, nil
	case "ODBC":
		return storage.BackendODBCClass, nil
	case "", "NONE":
		return storage.BackendNone, storage.NewError(storage.KindInvalidState, "storage.connection.dbmsType is unset", s)
	default:
		return storage.BackendNone, fmt.Errorf("unrecognized storage.connection.dbmsType %q", s)
	}
}

// StorageConfig builds a storage.Config from the loaded configuration.
// BrokerID and MessageJournal fall back to storage.DefaultConfig's values
// when left unset in the document.
func (c *Config) StorageConfig() (*storage.Config, error) {
	backend, err := dbmsBackend(c.Storage.Connection.DBMSType)
	if err != nil {
		return nil, err
	}
	sc := storage.DefaultConfig()
	sc.Backend = backend
	sc.DSN = c.Storage.Connection.DSN
	if c.Broker.ID != "" {
		sc.BrokerID = c.Broker.ID
	}
	if c.Storage.MessageJournal != "" {
		sc.JournalTable = c.Storage.MessageJournal
	}
	return sc, nil
}

// WorkerCount returns the configured dispatch worker pool size, defaulting
// to 1 if unset or non-positive.
func (c *Config) WorkerCount() int {
	if c.Threads.Subscribers <= 0 {
		return 1
	}
	return c.Threads.Subscribers
}

// Logger builds the structured logger described by c.Log: colored text to
// stderr by default, or one JSON object per line when Format is "json".
func (c *Config) Logger() logger.Logger {
	level := logger.ParseLevel(c.Log.Level)
	if c.Log.Format == "json" {
		return logger.NewJSONLogger(level, os.Stderr)
	}
	return logger.NewSlogLogger(level, os.Stderr)
}
