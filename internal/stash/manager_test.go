package stash

import "testing"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), 4, 8, 100)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerDefaultStash(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Get(DefaultStashName)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != DefaultStashName {
		t.Fatalf("expected default stash, got %q", s.Name)
	}
}

func TestManagerCreateAndDrop(t *testing.T) {
	m := newTestManager(t)
	if err := m.Create("s1", 2, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Create("s1", 2, false); err != ErrStashExists {
		t.Fatalf("expected ErrStashExists, got %v", err)
	}
	s1, err := m.Get("s1")
	if err != nil {
		t.Fatal(err)
	}
	s1.Set("a", "1")

	if err := m.Drop("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("s1"); err != ErrStashNotFound {
		t.Fatalf("expected ErrStashNotFound after drop, got %v", err)
	}
}

func TestManagerCannotDropDefault(t *testing.T) {
	m := newTestManager(t)
	if err := m.Drop(DefaultStashName); err != ErrCannotDropDefault {
		t.Fatalf("expected ErrCannotDropDefault, got %v", err)
	}
}

func TestManagerCapacityFull(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Get(DefaultStashName)
	if err != nil {
		t.Fatal(err)
	}
	s.Set("a", "1")
	s.Set("b", "2")
	// default stash was created with maxKeyCount=100; the capacity scenario
	// from the end-to-end tests is exercised directly against a small stash.
	small := newStash("tiny", 2, false, 4, newHeapStore())
	small.Set("a", "1")
	small.Set("b", "2")
	if err := small.Set("c", "3"); err != ErrCapacityFull {
		t.Fatalf("expected ErrCapacityFull, got %v", err)
	}
}

func TestManagerTooManyStashes(t *testing.T) {
	m, err := NewManager(t.TempDir(), 4, 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	// default already counts as one of the two allowed.
	if err := m.Create("s1", 10, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Create("s2", 10, false); err != ErrTooManyStashes {
		t.Fatalf("expected ErrTooManyStashes, got %v", err)
	}
}

func TestManagerNotifier(t *testing.T) {
	m := newTestManager(t)
	var got []string
	m.SetNotifier(notifierFunc(func(stashName, verb string, args []string) {
		got = append(got, verb)
	}))
	m.Notify(DefaultStashName, "SET", []string{"k", "v"})
	if len(got) != 1 || got[0] != "SET" {
		t.Fatalf("expected notifier invoked with SET, got %v", got)
	}
}

type notifierFunc func(stashName, verb string, args []string)

func (f notifierFunc) Notify(stashName, verb string, args []string) {
	f(stashName, verb, args)
}
