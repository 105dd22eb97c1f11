package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmq/broker/storage"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Threads.Subscribers)
	assert.Equal(t, "SQLITE_NATIVE", cfg.Storage.Connection.DBMSType)
	assert.Equal(t, "broker", cfg.Broker.ID)
}

func TestLoadFillsOmittedFieldsFromDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker:
  id: mybroker
storage:
  connection:
    dbmsType: POSTGRES
    dsn: "postgres://localhost/broker"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mybroker", cfg.Broker.ID)
	assert.Equal(t, "POSTGRES", cfg.Storage.Connection.DBMSType)
	assert.Equal(t, 4, cfg.Threads.Subscribers, "unset fields keep Default()'s value")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestStorageConfigMapsBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Connection.DBMSType = "POSTGRES"
	cfg.Storage.Connection.DSN = "postgres://x"

	sc, err := cfg.StorageConfig()
	require.NoError(t, err)
	assert.Equal(t, storage.BackendPostgres, sc.Backend)
	assert.Equal(t, "postgres://x", sc.DSN)
	assert.Equal(t, "broker", sc.BrokerID)
}

func TestStorageConfigRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Connection.DBMSType = "MONGO"
	_, err := cfg.StorageConfig()
	require.Error(t, err)
}

func TestStorageConfigRejectsUnsetBackend(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.StorageConfig()
	require.Error(t, err)
	var be *storage.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, storage.KindInvalidState, be.Kind)
}

func TestStorageConfigRejectsNoneBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Connection.DBMSType = "NONE"
	_, err := cfg.StorageConfig()
	require.Error(t, err)
	var be *storage.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, storage.KindInvalidState, be.Kind)
}

func TestWorkerCountDefaultsToOne(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 1, cfg.WorkerCount())
}

func TestLoggerBuildsWithoutPanicking(t *testing.T) {
	cfg := Default()
	log := cfg.Logger()
	require.NotNil(t, log)
	log.Warn("test", "key", "value")

	cfg.Log.Format = "json"
	log = cfg.Logger()
	require.NotNil(t, log)
}
