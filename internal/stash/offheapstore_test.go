package stash

import (
	"path/filepath"
	"testing"
)

func TestOffHeapStorePutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.values")
	store, err := newOffHeapStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.close()

	sv, err := store.put([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.get(sv)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestOffHeapStoreGrows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.values")
	store, err := newOffHeapStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.close()

	big := make([]byte, initialPageSize)
	for i := range big {
		big[i] = byte(i)
	}
	sv, err := store.put(big)
	if err != nil {
		t.Fatal(err)
	}
	if store.size <= initialPageSize {
		t.Fatalf("expected pool to grow beyond %d, got %d", initialPageSize, store.size)
	}
	got, err := store.get(sv)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(big) || got[0] != big[0] || got[len(got)-1] != big[len(big)-1] {
		t.Fatal("grown pool returned corrupted data")
	}
}

func TestOffHeapStoreClosedErrorsDontPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.values")
	store, err := newOffHeapStore(path)
	if err != nil {
		t.Fatal(err)
	}
	sv, err := store.put([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.close(); err != nil {
		t.Fatal(err)
	}

	if _, err := store.get(sv); err != errStoreClosed {
		t.Fatalf("expected errStoreClosed, got %v", err)
	}
	if _, err := store.put([]byte("y")); err != errStoreClosed {
		t.Fatalf("expected errStoreClosed, got %v", err)
	}
}

func TestStashTranslatesClosedStoreError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.values")
	off, err := newOffHeapStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s := newStash("off", 10, true, 4, off)
	if err := s.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	off.close()

	_, _, err = s.Get("k", false)
	if err != ErrStashClosed {
		t.Fatalf("expected ErrStashClosed, got %v", err)
	}
}
