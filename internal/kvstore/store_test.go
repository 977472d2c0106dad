package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func openTestStore(t *testing.T, path, namespace string) *Store {
	t.Helper()
	db, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open kv database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store, err := New(db, namespace)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "kv.db"), DefaultNamespace)

	if err := store.Set(ctx, "b", "first"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "a", "other"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "b", "second"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	value, ok, err := store.GetString(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("expected stored value, ok=%v err=%v", ok, err)
	}
	if value != "second" {
		t.Fatalf("expected overwritten value, got %q", value)
	}

	keys, err := store.GetAllKeys(ctx)
	if err != nil {
		t.Fatalf("list keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("deleting an absent key should succeed: %v", err)
	}
	if _, ok, _ := store.GetString(ctx, "b"); ok {
		t.Fatalf("expected key to be gone")
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	db, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open kv database: %v", err)
	}
	store, err := New(db, DefaultNamespace)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	if err := store.Set(ctx, "note", `{"title":"kept"}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()

	reopened := openTestStore(t, path, DefaultNamespace)
	value, ok, err := reopened.GetString(ctx, "note")
	if err != nil || !ok {
		t.Fatalf("expected value after reopen, ok=%v err=%v", ok, err)
	}
	if value != `{"title":"kept"}` {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestStoreNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	db, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open kv database: %v", err)
	}
	notesStore, _ := New(db, DefaultNamespace)
	otherStore, _ := New(db, "preferences")

	if err := notesStore.Set(ctx, "shared", "note"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok, _ := otherStore.GetString(ctx, "shared"); ok {
		t.Fatalf("namespace leak: key visible in other namespace")
	}
	keys, _ := otherStore.GetAllKeys(ctx)
	if len(keys) != 0 {
		t.Fatalf("expected no keys in other namespace, got %v", keys)
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "kv.db"), DefaultNamespace)
	if err := store.Set(context.Background(), "", "value"); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}
