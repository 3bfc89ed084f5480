package stash

import (
	"errors"
	"strconv"
	"sync/atomic"

	"sstash/internal/wire"
)

// notifyFunc forwards a successfully applied write-class command for
// replication fan-out. The manager installs one per stash at creation
// time, forwarding to Manager.Notify, which does nothing while no notifier
// is set. It is nil only on a stash built directly with newStash.
type notifyFunc func(verb string, args []string)

// Stash is a single named table: a keyspace, its TTL index, and the
// capacity policy that governs inserts. Both the on-heap and off-heap
// variants are this same type, differing only in which valueStore backs
// them.
type Stash struct {
	Name        string
	MaxKeyCount int
	OffHeap     bool

	ks    *lockedKeyspace
	ttl   *ttlIndex
	store valueStore

	backupDirty atomic.Bool

	notify notifyFunc
}

func newStash(name string, maxKeyCount int, offHeap bool, stripeCount int, store valueStore) *Stash {
	return &Stash{
		Name:        name,
		MaxKeyCount: maxKeyCount,
		OffHeap:     offHeap,
		ks:          newLockedKeyspace(stripeCount),
		ttl:         newTTLIndex(),
		store:       store,
	}
}

func translateStoreErr(err error) error {
	if errors.Is(err, errStoreClosed) {
		return ErrStashClosed
	}
	return err
}

// notifyLocked forwards verb/args to the installed notifier, if any. The
// caller must hold the affected key's stripe lock when calling this, so
// that a successful local mutation and its replication enqueue happen as
// one atomic step from a concurrent writer's point of view: two same-key
// writes from different connections can never apply locally in one order
// but reach followers in the other.
func (s *Stash) notifyLocked(verb string, args []string) {
	if s.notify != nil {
		s.notify(verb, args)
	}
}

// Set inserts or overwrites key with value. Any stale-expired TTL entry for
// key is cleared; a live TTL is left untouched.
func (s *Stash) Set(key, value string) error {
	return s.setInternal(key, value, 0, false)
}

// SetWithTTL inserts or overwrites key with value and sets its expiration to
// now + ttlMs.
func (s *Stash) SetWithTTL(key, value string, ttlMs int64) error {
	return s.setInternal(key, value, ttlMs, true)
}

func (s *Stash) setInternal(key, value string, ttlMs int64, withTTL bool) error {
	if len(key) > MaxKeyBytes {
		return ErrKeyTooLong
	}
	if len(value) > MaxValueBytes {
		return ErrValueTooLong
	}

	lock := s.ks.stripeFor(key)
	lock.Lock()
	defer lock.Unlock()

	existing, exists := s.ks.items.Load(key)
	if !exists {
		if !s.ks.tryReserve(s.MaxKeyCount) {
			return ErrCapacityFull
		}
	}

	sv, err := s.store.put([]byte(value))
	if err != nil {
		if !exists {
			s.ks.release()
		}
		return translateStoreErr(err)
	}

	if exists {
		s.store.delete(existing.(*entry).value)
	}
	s.ks.items.Store(key, &entry{value: sv})

	if withTTL {
		s.ttl.add(key, ttlMs)
	} else if s.ttl.isExpired(key) {
		s.ttl.remove(key)
	}

	s.backupDirty.Store(true)
	if withTTL {
		s.notifyLocked(wire.VerbSetTTL, []string{key, value, strconv.FormatInt(ttlMs, 10)})
	} else {
		s.notifyLocked(wire.VerbSet, []string{key, value})
	}
	return nil
}

// Get returns key's value if present and not expired. If expired and
// readOnly is false, the key is removed lazily and absent is returned. If
// readOnly is true, an expired key is reported absent without mutation.
//
// The live-value fast path below reads without the stripe lock: safe here
// because both stores only ever append a new value and leave the old slot
// untouched until a subsequent locked delete, never reuse it in place.
func (s *Stash) Get(key string, readOnly bool) (string, bool, error) {
	v, ok := s.ks.items.Load(key)
	if !ok {
		return "", false, nil
	}

	if !s.ttl.isExpired(key) {
		val, err := s.store.get(v.(*entry).value)
		if err != nil {
			return "", false, translateStoreErr(err)
		}
		return string(val), true, nil
	}
	if readOnly {
		return "", false, nil
	}

	lock := s.ks.stripeFor(key)
	lock.Lock()
	defer lock.Unlock()

	v, ok = s.ks.items.Load(key)
	if !ok {
		return "", false, nil
	}
	if !s.ttl.isExpired(key) {
		val, err := s.store.get(v.(*entry).value)
		if err != nil {
			return "", false, translateStoreErr(err)
		}
		return string(val), true, nil
	}
	s.deleteLocked(key, v.(*entry))
	s.backupDirty.Store(true)
	return "", false, nil
}

// Delete removes key and its TTL entry, reporting whether it was present.
func (s *Stash) Delete(key string) bool {
	lock := s.ks.stripeFor(key)
	lock.Lock()
	defer lock.Unlock()

	v, ok := s.ks.items.Load(key)
	if !ok {
		return false
	}
	s.deleteLocked(key, v.(*entry))
	s.backupDirty.Store(true)
	s.notifyLocked(wire.VerbDelete, []string{key})
	return true
}

// deleteLocked removes key from every index. Caller holds key's stripe lock.
func (s *Stash) deleteLocked(key string, e *entry) {
	s.ks.items.Delete(key)
	s.store.delete(e.value)
	s.ks.release()
	s.ttl.remove(key)
}

// UpdateTTL sets key's expiration if it exists, reporting whether it did.
func (s *Stash) UpdateTTL(key string, ttlMs int64) bool {
	lock := s.ks.stripeFor(key)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := s.ks.items.Load(key); !ok {
		return false
	}
	s.ttl.add(key, ttlMs)
	s.backupDirty.Store(true)
	s.notifyLocked(wire.VerbUpdateTTL, []string{key, strconv.FormatInt(ttlMs, 10)})
	return true
}

// ExpireDue removes every key whose expiration has passed, bounded per call
// by the TTL index, and returns the number removed.
func (s *Stash) ExpireDue() int {
	due := s.ttl.expireDue()
	removed := 0
	for _, key := range due {
		lock := s.ks.stripeFor(key)
		lock.Lock()
		if v, ok := s.ks.items.Load(key); ok {
			s.ks.items.Delete(key)
			s.store.delete(v.(*entry).value)
			s.ks.release()
			removed++
		}
		lock.Unlock()
	}
	if removed > 0 {
		s.backupDirty.Store(true)
	}
	return removed
}

// Len reports the current key count.
func (s *Stash) Len() int64 {
	return s.ks.len()
}

// InsertRestored inserts key/value with an absolute expiration (zero means
// no TTL), used by snapshot restore where the original expires_at is known
// rather than a relative ttl_ms. It does not mark the stash dirty.
func (s *Stash) InsertRestored(key, value string, expiresAtMs int64) error {
	lock := s.ks.stripeFor(key)
	lock.Lock()
	defer lock.Unlock()

	if _, exists := s.ks.items.Load(key); !exists {
		if !s.ks.tryReserve(s.MaxKeyCount) {
			return ErrCapacityFull
		}
	}
	sv, err := s.store.put([]byte(value))
	if err != nil {
		return translateStoreErr(err)
	}
	s.ks.items.Store(key, &entry{value: sv})
	if expiresAtMs > 0 {
		s.ttl.addAbsolute(key, expiresAtMs)
	}
	return nil
}

// Range calls fn for every non-expired entry, passing its value and
// absolute expiration (zero if none). fn's decision to stop iteration
// (returning false) is honored the same way sync.Map.Range honors it. The
// snapshot writer uses this for its point-in-time dump; it may observe
// concurrent mutations, which is accepted.
func (s *Stash) Range(fn func(key, value string, expiresAtMs int64) bool) {
	s.ks.items.Range(func(k, v any) bool {
		key := k.(string)
		if s.ttl.isExpired(key) {
			return true
		}
		val, err := s.store.get(v.(*entry).value)
		if err != nil {
			return true
		}
		return fn(key, string(val), s.ttl.expirationOf(key))
	})
}

// Dirty reports whether a mutation has occurred since the last cleared
// snapshot.
func (s *Stash) Dirty() bool {
	return s.backupDirty.Load()
}

// ClearDirty marks the stash as having no pending snapshot-worthy changes.
func (s *Stash) ClearDirty() {
	s.backupDirty.Store(false)
}

// Close releases the stash's backing store.
func (s *Stash) Close() error {
	return s.store.close()
}
