package wire

import "sync"

// bufferPool hands out reusable byte slices for reply encoding, the same
// grow-on-miss / reset-on-return pattern the cache server this protocol
// replaces used for its binary frames.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				return make([]byte, 1024)
			},
		},
	}
}

func (bp *bufferPool) get(size int) []byte {
	buf := bp.pool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func (bp *bufferPool) put(buf []byte) {
	if cap(buf) <= 64*1024 {
		buf = buf[:0]
		bp.pool.Put(buf)
	}
}

// Pool is the package-level buffer pool shared by all encoders.
var Pool = newBufferPool()
