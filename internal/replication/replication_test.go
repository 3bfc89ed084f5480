package replication

import (
	"net"
	"testing"
	"time"

	"sstash/internal/wire"
)

func TestLeaderFanoutToFollower(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	leader := NewLeader(4096)
	acceptDone := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		leader.AddFollower(conn)
		close(acceptDone)
	}()

	applied := make(chan *wire.Command, 1)
	follower := NewFollower(ln.Addr().String(), func(cmd *wire.Command) error {
		applied <- cmd
		return nil
	})
	go follower.Run()
	defer follower.Stop()

	select {
	case <-acceptDone:
	case <-time.After(2 * time.Second):
		t.Fatal("leader never accepted the follower connection")
	}

	leader.Notify("default", wire.VerbSet, []string{"k", "v"})

	select {
	case cmd := <-applied:
		if cmd.Verb != wire.VerbSet || cmd.Args[0] != "k" || cmd.Args[1] != "v" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follower never applied the forwarded command")
	}
}

// TestSinkEnqueueRespectsBound constructs a sink without starting its
// draining goroutine, so enqueue's buffer bound can be observed precisely:
// once the queue is full, the next enqueue closes the sink and reports
// false, exactly as a real leader would drop a follower that can't keep up.
func TestSinkEnqueueRespectsBound(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	const bound = 4
	s := &sink{
		conn:   client,
		queue:  make(chan []byte, bound),
		closed: make(chan struct{}),
	}

	accepted := 0
	for i := 0; i < bound+3; i++ {
		if s.enqueue([]byte("x")) {
			accepted++
		}
	}
	if accepted != bound {
		t.Fatalf("expected exactly %d frames accepted before the sink closes, got %d", bound, accepted)
	}
	select {
	case <-s.closed:
	default:
		t.Fatal("expected sink to be closed once its buffer filled")
	}
	if s.enqueue([]byte("y")) {
		t.Fatal("expected enqueue on a closed sink to fail")
	}
}
