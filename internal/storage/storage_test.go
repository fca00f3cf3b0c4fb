package storage

import (
	"bytes"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key := "peers:relay-room:wallet"
	value := []byte(`[{"id":"p1"}]`)

	if err := s.Set(key, value); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("key not found after set")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("value = %q, want %q", got, value)
	}
}

func TestFileStoreMissingKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, ok, err := s.Get("absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("found a key that was never set")
	}
}

func TestFileStoreDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("key still present after delete")
	}

	// Deleting an absent key is not an error.
	if err := s.Delete("k"); err != nil {
		t.Errorf("delete absent: %v", err)
	}
}

func TestFileStoreEscapesUnsafeKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	key := "relay-room:sync-token:https://relay.example.org/path"
	if err := s.Set(key, []byte("cursor")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get(key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "cursor" {
		t.Errorf("value = %q, want %q", got, "cursor")
	}
}

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore()

	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get("k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Errorf("value = %q, want %q", got, "v")
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("key still present after delete")
	}
}
