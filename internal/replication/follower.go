package replication

import (
	"log"
	"net"
	"time"

	"sstash/internal/wire"
)

// ApplyFunc applies one replicated command to local state. The server
// wiring supplies the same handler the local write port uses, bypassing
// the read-only gate for this single internal channel.
type ApplyFunc func(cmd *wire.Command) error

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Follower connects to a leader's master_ip:master_port, consumes its
// command stream, and applies it locally. On disconnect it reconnects with
// exponential backoff, doubling from 1s up to a 30s cap. There is no resume
// or offset: a reconnecting follower rejoins the live stream only, and any
// writes missed during the disconnect are never recovered.
type Follower struct {
	addr  string
	apply ApplyFunc
	stop  chan struct{}
}

// NewFollower constructs a follower that will dial addr once Run starts.
func NewFollower(addr string, apply ApplyFunc) *Follower {
	return &Follower{addr: addr, apply: apply, stop: make(chan struct{})}
}

// Run connects and consumes the stream until Stop is called, blocking the
// calling goroutine. Callers typically invoke it via `go follower.Run()`.
func (f *Follower) Run() {
	backoff := initialBackoff
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		conn, err := net.Dial("tcp", f.addr)
		if err != nil {
			log.Printf("sstash: connecting to master %s: %v", f.addr, err)
			if !f.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		handshake := wire.EncodeCommand(&wire.Command{Verb: wire.VerbReplica})
		if _, err := conn.Write(handshake); err != nil {
			log.Printf("sstash: sending replica handshake to %s: %v", f.addr, err)
			conn.Close()
			if !f.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		f.consume(conn)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (f *Follower) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-f.stop:
		return false
	}
}

func (f *Follower) consume(conn net.Conn) {
	defer conn.Close()

	var dec wire.Decoder
	var pending [][]byte
	buf := make([]byte, 4096)

	for {
		select {
		case <-f.stop:
			return
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			toks, derr := dec.Decode()
			if derr != nil {
				log.Printf("sstash: master stream framing error, reconnecting: %v", derr)
				return
			}
			pending = append(pending, toks...)
			pending = f.drain(pending)
		}
		if err != nil {
			return
		}
	}
}

// drain applies as many complete commands as pending holds and returns
// whatever remains unconsumed.
func (f *Follower) drain(pending [][]byte) [][]byte {
	for {
		cmd, n, err := wire.ParseCommand(pending, wire.Verbs)
		if err == wire.ErrIncompleteCommand {
			return pending
		}
		if err != nil {
			log.Printf("sstash: master stream command error, skipping %d tokens: %v", n, err)
			pending = pending[n:]
			continue
		}
		if err := f.apply(cmd); err != nil {
			log.Printf("sstash: applying replicated command %s: %v", cmd.Verb, err)
		}
		pending = pending[n:]
	}
}

// Stop requests the follower's connect loop to exit.
func (f *Follower) Stop() {
	close(f.stop)
}
