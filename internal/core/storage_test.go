package core

import (
	"cicdcopilot/internal/infra/persistence/memory"
	"cicdcopilot/internal/infra/persistence/sqlite"
	"cicdcopilot/pkg/domain"
	"context"
	"path/filepath"
	"testing"
)

func TestOpenPersistentStore_DefaultSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.db")
	store, closer, err := OpenPersistentStore(StorageConfig{SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	t.Cleanup(func() { _ = closer.Close() })
	sqliteStore, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	if sqliteStore.Path() != path {
		t.Fatalf("expected path %s, got %s", path, sqliteStore.Path())
	}
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
		t.Fatalf("empty transaction: %v", err)
	}
}

func TestOpenPersistentStore_Memory(t *testing.T) {
	store, closer, err := OpenPersistentStore(StorageConfig{Driver: StorageMemory}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("memory closer: %v", err)
	}
}

func TestOpenPersistentStore_SQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := StorageConfig{Driver: StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "reopen.db")}

	store, closer, err := OpenPersistentStore(cfg, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	svc := NewService(store, nil)
	if seeded, _, err := svc.SeedDemoData(ctx); err != nil || !seeded {
		t.Fatalf("seed: seeded=%v err=%v", seeded, err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, closer, err := OpenPersistentStore(cfg, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = closer.Close() })
	if got := len(reopened.ListMopFiles()); got != len(seedMops) {
		t.Fatalf("expected %d mop files after reopen, got %d", len(seedMops), got)
	}
	if _, ok := reopened.GetUser(DefaultUserID); !ok {
		t.Fatalf("expected demo user after reopen")
	}
}

func TestOpenPersistentStore_UnknownDriver(t *testing.T) {
	store, closer, err := OpenPersistentStore(StorageConfig{Driver: "gibberish"}, NewDefaultRulesEngine())
	if err == nil || store != nil || closer != nil {
		t.Fatalf("expected error for unknown driver, got store=%v err=%v", store, err)
	}
}

func TestStorageDriverValid(t *testing.T) {
	for _, d := range []StorageDriver{StorageMemory, StorageSQLite, StoragePostgres} {
		if !d.Valid() {
			t.Fatalf("expected %s to be valid", d)
		}
	}
	if StorageDriver("mysql").Valid() {
		t.Fatalf("expected mysql to be rejected")
	}
	if got := DefaultStorageConfig().Driver; got != StorageSQLite {
		t.Fatalf("expected sqlite default, got %s", got)
	}
}
