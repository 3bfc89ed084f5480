package stash

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// errStoreClosed is the off-heap store's internal close-while-accessing
// signal; the stash translates it to the client-facing ErrStashClosed.
var errStoreClosed = errors.New("sstash: off-heap store closed")

// initialPageSize is the off-heap store's starting file size; it grows by
// doubling as appends overflow it.
const initialPageSize = 1 << 20

// pageRef is a storedValue handle for the off-heap store: a byte range in
// the mapped pool.
type pageRef struct {
	offset int64
	length int32
}

// offHeapStore is an append-only page pool over a single memory-mapped
// file. Entries are never overwritten in place; an overwrite or delete
// abandons the old slot rather than reclaiming it, which the pool accepts
// as a known limitation rather than implementing compaction.
type offHeapStore struct {
	mu     sync.RWMutex
	file   *os.File
	region mmap.MMap
	size   int64
	cursor int64
	closed bool
}

func newOffHeapStore(path string) (*offHeapStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(initialPageSize); err != nil {
		f.Close()
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &offHeapStore{file: f, region: m, size: initialPageSize}, nil
}

func (o *offHeapStore) put(v []byte) (storedValue, error) {
	need := int64(4 + len(v))
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errStoreClosed
	}
	if o.cursor+need > o.size {
		if err := o.growLocked(o.cursor + need); err != nil {
			return nil, err
		}
	}
	off := o.cursor
	binary.LittleEndian.PutUint32(o.region[off:off+4], uint32(len(v)))
	copy(o.region[off+4:off+4+int64(len(v))], v)
	o.cursor += need
	return pageRef{offset: off + 4, length: int32(len(v))}, nil
}

// growLocked doubles the pool until it fits minSize, unmapping, truncating,
// and remapping the backing file. Callers hold o.mu for writing.
func (o *offHeapStore) growLocked(minSize int64) error {
	newSize := o.size
	for newSize < minSize {
		newSize *= 2
	}
	if err := o.region.Unmap(); err != nil {
		return err
	}
	if err := o.file.Truncate(newSize); err != nil {
		return err
	}
	m, err := mmap.Map(o.file, mmap.RDWR, 0)
	if err != nil {
		return err
	}
	o.region = m
	o.size = newSize
	return nil
}

func (o *offHeapStore) get(sv storedValue) ([]byte, error) {
	ref := sv.(pageRef)
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, errStoreClosed
	}
	out := make([]byte, ref.length)
	copy(out, o.region[ref.offset:ref.offset+int64(ref.length)])
	return out, nil
}

// delete abandons the slot; the pool only grows.
func (o *offHeapStore) delete(storedValue) {}

func (o *offHeapStore) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.region.Unmap(); err != nil {
		o.file.Close()
		return err
	}
	return o.file.Close()
}
