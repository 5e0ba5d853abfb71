package store

import (
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetLong_MissingReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	if v := s.GetLong("nope", -7); v != -7 {
		t.Fatalf("GetLong(missing) = %d, want -7", v)
	}
}

func TestPutLong_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutLong("offset", 1612384206341); err != nil {
		t.Fatalf("PutLong: %v", err)
	}
	if v := s.GetLong("offset", 0); v != 1612384206341 {
		t.Fatalf("GetLong = %d, want 1612384206341", v)
	}
}

func TestPutLong_Overwrites(t *testing.T) {
	s := newTestStore(t)
	s.PutLong("k", 1)
	s.PutLong("k", -2)
	if v := s.GetLong("k", 0); v != -2 {
		t.Fatalf("GetLong after overwrite = %d, want -2", v)
	}
	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected a single key, got %v", keys)
	}
}

func TestPutLongs_AllOrNothingVisible(t *testing.T) {
	s := newTestStore(t)
	err := s.PutLongs(map[string]int64{"a": 1, "b": 2, "c": 3})
	if err != nil {
		t.Fatalf("PutLongs: %v", err)
	}
	for k, want := range map[string]int64{"a": 1, "b": 2, "c": 3} {
		if got := s.GetLong(k, 0); got != want {
			t.Fatalf("GetLong(%s) = %d, want %d", k, got, want)
		}
	}
}

func TestPutLongs_Empty(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutLongs(nil); err != nil {
		t.Fatalf("PutLongs(nil): %v", err)
	}
}

func TestLookup(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.Lookup("x"); err != nil || ok {
		t.Fatalf("Lookup(missing): ok=%v err=%v", ok, err)
	}
	s.PutLong("x", 9)
	v, ok, err := s.Lookup("x")
	if err != nil || !ok || v != 9 {
		t.Fatalf("Lookup(x) = %d, %v, %v", v, ok, err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	s.PutLongs(map[string]int64{"a": 1, "b": 2})
	if err := s.Delete("a", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if v := s.GetLong("a", 42); v != 42 {
		t.Fatalf("deleted key still readable: %d", v)
	}
	if v := s.GetLong("b", 0); v != 2 {
		t.Fatalf("unrelated key lost: %d", v)
	}
}

func TestReopenKeepsValues(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s.PutLong("offset", 123)
	s.Close()

	s2, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if v := s2.GetLong("offset", 0); v != 123 {
		t.Fatalf("value after reopen = %d, want 123", v)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.PutLongs(map[string]int64{"value": int64(i), "saved_at": int64(i)}); err != nil {
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if s.GetLong("value", -1) != s.GetLong("saved_at", -2) {
		t.Fatal("slot keys written in one transaction must agree")
	}
}
