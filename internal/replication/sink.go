// Package replication implements single-leader replication: a leader
// fans out every successfully applied write-class command to its
// connected followers, and a follower consumes that stream and applies it
// to its own local stash.
package replication

import (
	"log"
	"net"
	"sync"
)

// defaultSinkBufferSize bounds how many pending frames a follower sink may
// queue before the leader gives up on it, used when a Leader is
// constructed with a non-positive buffer size.
const defaultSinkBufferSize = 4096

// sink is one connected follower's outbound queue: a bounded channel and a
// writer goroutine draining it to the connection. A full buffer or a write
// failure drops and closes the sink; the leader never blocks on a slow
// follower beyond this bound.
type sink struct {
	conn   net.Conn
	queue  chan []byte
	once   sync.Once
	closed chan struct{}
}

func newSink(conn net.Conn, bufferSize int) *sink {
	if bufferSize < 1 {
		bufferSize = defaultSinkBufferSize
	}
	s := &sink{
		conn:   conn,
		queue:  make(chan []byte, bufferSize),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sink) run() {
	for {
		select {
		case frame := <-s.queue:
			if _, err := s.conn.Write(frame); err != nil {
				log.Printf("sstash: replication sink write failed, dropping follower: %v", err)
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// enqueue appends frame to the sink's outbound queue. It reports whether
// the frame was accepted; false means the sink is full or already closed
// and the caller should drop it from the fan-out set.
func (s *sink) enqueue(frame []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.queue <- frame:
		return true
	default:
		s.Close()
		return false
	}
}

// Close closes the sink's connection and stops its writer goroutine. Safe
// to call more than once.
func (s *sink) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}
