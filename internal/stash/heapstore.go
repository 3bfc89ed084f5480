package stash

// heapStore is the on-heap valueStore: storedValue is the value's bytes,
// copied on put so the caller's buffer can be reused or mutated freely.
type heapStore struct{}

func newHeapStore() *heapStore {
	return &heapStore{}
}

func (h *heapStore) put(v []byte) (storedValue, error) {
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (h *heapStore) get(sv storedValue) ([]byte, error) {
	return sv.([]byte), nil
}

func (h *heapStore) delete(storedValue) {}

func (h *heapStore) close() error { return nil }
