package stash

import (
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

// entry is what the keyspace's concurrent map stores per key: an opaque
// handle into the backing valueStore. The TTL, if any, lives separately in
// the stash's ttlIndex.
type entry struct {
	value storedValue
}

// lockedKeyspace is the facade both stash variants are unified behind: a
// concurrent map plus a fixed array of stripe locks selected by hashing the
// key. It tracks its own size so capacity can be enforced without a full
// scan of the map.
type lockedKeyspace struct {
	items   sync.Map // string -> *entry
	stripes []sync.Mutex
	count   int64
}

func newLockedKeyspace(stripeCount int) *lockedKeyspace {
	if stripeCount < 1 {
		stripeCount = 1
	}
	return &lockedKeyspace{stripes: make([]sync.Mutex, stripeCount)}
}

// stripeFor returns the mutex guarding key, chosen by hash(key) mod
// stripeCount.
func (ks *lockedKeyspace) stripeFor(key string) *sync.Mutex {
	h := murmur3.Sum32([]byte(key))
	return &ks.stripes[int(h)%len(ks.stripes)]
}

func (ks *lockedKeyspace) len() int64 {
	return atomic.LoadInt64(&ks.count)
}

// tryReserve atomically claims one slot if the keyspace is under max,
// failing otherwise. Call before inserting a new (not overwriting) key.
func (ks *lockedKeyspace) tryReserve(max int) bool {
	for {
		c := atomic.LoadInt64(&ks.count)
		if c >= int64(max) {
			return false
		}
		if atomic.CompareAndSwapInt64(&ks.count, c, c+1) {
			return true
		}
	}
}

func (ks *lockedKeyspace) release() {
	atomic.AddInt64(&ks.count, -1)
}
