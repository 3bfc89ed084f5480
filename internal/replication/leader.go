package replication

import (
	"net"
	"sync"

	"sstash/internal/stash"
	"sstash/internal/wire"
)

// Leader holds the set of connected follower sinks and fans out every
// successfully applied write-class command to each of them. It implements
// stash.Notifier.
type Leader struct {
	mu         sync.Mutex
	sinks      map[*sink]struct{}
	bufferSize int
}

// NewLeader constructs an empty fan-out set. bufferSize bounds each
// follower sink's outbound queue; a non-positive value falls back to
// defaultSinkBufferSize.
func NewLeader(bufferSize int) *Leader {
	return &Leader{sinks: make(map[*sink]struct{}), bufferSize: bufferSize}
}

// AddFollower registers conn as a new follower sink.
func (l *Leader) AddFollower(conn net.Conn) {
	s := newSink(conn, l.bufferSize)
	l.mu.Lock()
	l.sinks[s] = struct{}{}
	l.mu.Unlock()
}

// FollowerCount reports how many followers are currently attached.
func (l *Leader) FollowerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sinks)
}

// Notify re-encodes the command and appends it to every follower sink.
// Sinks that reject the frame (full buffer or already closed) are dropped
// from the fan-out set. Mutation forwarding for a given key is already
// serialized by the caller holding that key's stripe lock while both
// applying locally and calling Notify.
func (l *Leader) Notify(stashName, verb string, args []string) {
	cmd := &wire.Command{Verb: verb, Args: append([]string(nil), args...)}
	if verb != wire.VerbCreate && verb != wire.VerbDrop && stashName != stash.DefaultStashName {
		cmd.Opts = map[string]string{"NAME": stashName}
	}
	frame := wire.EncodeCommand(cmd)

	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.sinks {
		if !s.enqueue(frame) {
			delete(l.sinks, s)
		}
	}
}

// Close closes every follower sink, used at shutdown.
func (l *Leader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.sinks {
		s.Close()
		delete(l.sinks, s)
	}
}
