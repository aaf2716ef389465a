package core

import (
	"cicdcopilot/internal/infra/persistence/memory"
	"cicdcopilot/internal/infra/persistence/postgres"
	"cicdcopilot/internal/infra/persistence/sqlite"
	"cicdcopilot/pkg/domain"
	"fmt"
	"io"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Valid reports whether d names a known driver.
func (d StorageDriver) Valid() bool {
	switch d {
	case StorageMemory, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// StorageConfig selects the persistent store.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// DefaultStorageConfig returns the sqlite defaults.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:      StorageSQLite,
		SQLitePath:  sqlite.DefaultPath,
		PostgresDSN: postgres.DefaultDSN,
	}
}

// OpenPersistentStore selects a backend from cfg. An empty driver means sqlite.
// The returned closer releases database handles and is a no-op for memory.
func OpenPersistentStore(cfg StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, io.Closer, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nopCloser{}, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
