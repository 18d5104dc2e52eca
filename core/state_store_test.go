package core

import (
	"path/filepath"
	"testing"
)

func TestInMemoryStoreSetGetDelete(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Get([]byte("missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := s.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("get: %q, %v", v, err)
	}
	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get([]byte("k")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestInMemoryStoreIteratorPrefix(t *testing.T) {
	s := NewInMemoryStore()
	s.Set([]byte("dao:meta:a"), []byte("1"))
	s.Set([]byte("dao:meta:b"), []byte("2"))
	s.Set([]byte("stake:c"), []byte("3"))

	it := s.Iterator([]byte("dao:meta:"))
	defer it.Close()
	count := 0
	for it.Next() {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 matching keys, got %d", count)
	}
}

func TestPebbleKVStorePersistsAndIterates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "statedb")
	store, err := OpenPebbleKVStore(dir)
	if err != nil {
		t.Fatalf("open pebble store: %v", err)
	}
	defer store.Close()

	if err := store.Set([]byte("authority:node:a"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set([]byte("authority:node:b"), []byte("2")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set([]byte("stake:a"), []byte("3")); err != nil {
		t.Fatalf("set unrelated key: %v", err)
	}

	v, err := store.Get([]byte("authority:node:a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("get: %q, %v", v, err)
	}

	it := store.Iterator([]byte("authority:node:"))
	defer it.Close()
	seen := map[string]string{}
	for it.Next() {
		seen[string(it.Key())] = string(it.Value())
	}
	if len(seen) != 2 || seen["authority:node:a"] != "1" || seen["authority:node:b"] != "2" {
		t.Fatalf("unexpected iterator contents: %v", seen)
	}

	if err := store.Delete([]byte("authority:node:a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get([]byte("authority:node:a")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
