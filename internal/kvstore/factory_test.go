package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildFromDSNMemory(t *testing.T) {
	store, err := BuildFromDSN("memory://")
	if err != nil {
		t.Fatalf("build memory store failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", store)
	}
}

func TestBuildFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := BuildFromDSN("file://" + path)
	if err != nil {
		t.Fatalf("build file store failed: %v", err)
	}
	fileStore, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}
	if fileStore.Path() != path {
		t.Fatalf("expected path %s, got %s", path, fileStore.Path())
	}

	bare := filepath.Join(t.TempDir(), "bare.json")
	store, err = BuildFromDSN(bare)
	if err != nil {
		t.Fatalf("build bare path store failed: %v", err)
	}
	if got := store.(*FileStore).Path(); got != bare {
		t.Fatalf("expected bare path %s, got %s", bare, got)
	}
}

func TestBuildFromDSNSQLBackends(t *testing.T) {
	store, err := BuildFromDSN("postgres://localhost/courier?sslmode=disable")
	if err != nil {
		t.Fatalf("expected postgres store to be available, got %v", err)
	}
	if sqlStore, ok := store.(*SQLStore); !ok || sqlStore.dialect.driverName != "postgres" {
		t.Fatalf("expected postgres SQLStore, got %T", store)
	}

	store, err = BuildFromDSN("sqlite://" + filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("expected sqlite store to be available, got %v", err)
	}
	if sqlStore, ok := store.(*SQLStore); !ok || sqlStore.dialect.driverName != "sqlite" {
		t.Fatalf("expected sqlite SQLStore, got %T", store)
	}
}

func TestBuildFromDSNRedisPrefix(t *testing.T) {
	store, err := BuildFromDSN("redis://localhost:6379/2?prefix=app:")
	if err != nil {
		t.Fatalf("build redis store failed: %v", err)
	}
	redisStore, ok := store.(*RedisStore)
	if !ok {
		t.Fatalf("expected *RedisStore, got %T", store)
	}
	defer redisStore.Close()
	if redisStore.prefix != "app:" {
		t.Fatalf("expected prefix app:, got %q", redisStore.prefix)
	}
	if db := redisStore.client.Options().DB; db != 2 {
		t.Fatalf("expected redis db 2, got %d", db)
	}

	store, err = BuildFromDSN("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("build redis store failed: %v", err)
	}
	defer store.Close()
	if got := store.(*RedisStore).prefix; got != defaultRedisPrefix {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestBuildFromDSNErrors(t *testing.T) {
	if _, err := BuildFromDSN("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty dsn, got %v", err)
	}
	if _, err := BuildFromDSN("mysql://localhost/courier"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for mysql, got %v", err)
	}
	if _, err := BuildFromDSN("s3://bucket/key"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestRegisterFactoryOverridesScheme(t *testing.T) {
	custom := NewMemoryStore()
	RegisterFactory("Vault", func(dsn string) (Store, error) {
		return custom, nil
	})
	t.Cleanup(func() { unregisterFactory("vault") })

	store, err := BuildFromDSN("vault://secrets/courier")
	if err != nil {
		t.Fatalf("build registered store failed: %v", err)
	}
	if store != custom {
		t.Fatalf("expected registered factory result")
	}
	if err := store.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("set through registered store failed: %v", err)
	}

	RegisterFactory("", func(string) (Store, error) { return nil, nil })
	RegisterFactory("noop", nil)
	if _, ok := lookupFactory("noop"); ok {
		t.Fatalf("nil factory should not be registered")
	}
}
