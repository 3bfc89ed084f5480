package stash

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"sstash/internal/wire"
)

// DefaultStashName is the name of the stash every manager creates on
// construction and refuses to drop.
const DefaultStashName = "default"

// Notifier receives every successfully applied write-class command, keyed
// by the stash it was applied to, for replication fan-out. Leader-only; a
// manager with no notifier set simply skips the call.
type Notifier interface {
	Notify(stashName, verb string, args []string)
}

// Manager is the directory of named stashes: it enforces the global stash
// cap and owns the default stash. Every stash is exclusively owned by the
// manager; callers obtain a *Stash via Get and call its methods directly.
type Manager struct {
	mu          sync.RWMutex
	stashes     map[string]*Stash
	dataDir     string
	stripeCount int
	maxStashes  int
	notifier    Notifier
}

// NewManager constructs a manager rooted at dataDir and creates its default
// stash with defaultMaxKeyCount as an on-heap stash.
func NewManager(dataDir string, stripeCount, maxStashes, defaultMaxKeyCount int) (*Manager, error) {
	m := &Manager{
		stashes:     make(map[string]*Stash),
		dataDir:     dataDir,
		stripeCount: stripeCount,
		maxStashes:  maxStashes,
	}
	if _, err := m.createLocked(DefaultStashName, defaultMaxKeyCount, false); err != nil {
		return nil, err
	}
	return m, nil
}

// SetNotifier installs the replication fan-out hook.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Get returns the named stash, or ErrStashNotFound.
func (m *Manager) Get(name string) (*Stash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stashes[name]
	if !ok {
		return nil, ErrStashNotFound
	}
	return s, nil
}

// Create adds a new named stash. Used both for the CREATE command and for
// snapshot restore of non-default stashes at startup. A successful Create
// is forwarded to the installed notifier under the same manager lock that
// applies it, so a concurrent Drop/Create of the same name can never
// reorder between local application and replication enqueue.
func (m *Manager) Create(name string, maxKeyCount int, offHeap bool) error {
	if len(name) > MaxNameBytes {
		return ErrNameTooLong
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.createLocked(name, maxKeyCount, offHeap); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.Notify(name, wire.VerbCreate, []string{name, strconv.Itoa(maxKeyCount), strconv.FormatBool(offHeap)})
	}
	return nil
}

// createLocked constructs and registers the stash; caller holds m.mu.
func (m *Manager) createLocked(name string, maxKeyCount int, offHeap bool) (*Stash, error) {
	if _, exists := m.stashes[name]; exists {
		return nil, ErrStashExists
	}
	if len(m.stashes) >= m.maxStashes {
		return nil, ErrTooManyStashes
	}

	var store valueStore
	if offHeap {
		path := filepath.Join(m.dataDir, name+".values")
		off, err := newOffHeapStore(path)
		if err != nil {
			return nil, fmt.Errorf("sstash: opening off-heap store for %q: %w", name, err)
		}
		store = off
	} else {
		store = newHeapStore()
	}

	s := newStash(name, maxKeyCount, offHeap, m.stripeCount, store)
	s.notify = func(verb string, args []string) { m.Notify(name, verb, args) }
	m.stashes[name] = s
	return s, nil
}

// Drop removes name from the directory, closes its backing store, and
// deletes its snapshot and (if off-heap) values files. The default stash
// cannot be dropped.
func (m *Manager) Drop(name string) error {
	if name == DefaultStashName {
		return ErrCannotDropDefault
	}

	m.mu.Lock()
	s, ok := m.stashes[name]
	if !ok {
		m.mu.Unlock()
		return ErrStashNotFound
	}
	delete(m.stashes, name)
	if m.notifier != nil {
		m.notifier.Notify(name, wire.VerbDrop, []string{name})
	}
	m.mu.Unlock()

	s.Close()
	os.Remove(filepath.Join(m.dataDir, name+".snap"))
	os.Remove(filepath.Join(m.dataDir, name+".snap.staging"))
	if s.OffHeap {
		os.Remove(filepath.Join(m.dataDir, name+".values"))
	}
	return nil
}

// Notify forwards a successfully applied write-class command to the
// installed Notifier, if any. Each stash calls this itself, under the key's
// stripe lock, via the closure installed in createLocked; Create and Drop
// call it directly under the manager lock. Exported so tests can drive it
// without a full stash.
func (m *Manager) Notify(stashName, verb string, args []string) {
	m.mu.RLock()
	n := m.notifier
	m.mu.RUnlock()
	if n != nil {
		n.Notify(stashName, verb, args)
	}
}

// Each invokes fn for every stash currently in the directory. The stash
// list is snapshotted under the read lock first so fn may safely call back
// into the manager (e.g. Drop) without deadlocking.
func (m *Manager) Each(fn func(*Stash)) {
	m.mu.RLock()
	all := make([]*Stash, 0, len(m.stashes))
	for _, s := range m.stashes {
		all = append(all, s)
	}
	m.mu.RUnlock()
	for _, s := range all {
		fn(s)
	}
}

// CloseAll closes every stash's backing store, best-effort, used at
// shutdown.
func (m *Manager) CloseAll() {
	m.Each(func(s *Stash) { s.Close() })
}
