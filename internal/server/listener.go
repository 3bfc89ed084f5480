package server

import (
	"bufio"
	"io"
	"log"
	"net"
	"time"

	"sstash/internal/replication"
	"sstash/internal/stash"
	"sstash/internal/wire"
)

// Server owns both TCP listeners for a stash node: a primary port accepting
// reads and writes, and a read-only port that rejects write-class commands.
// A node acting as a replication leader also holds the Leader that fans out
// every applied write; a follower node holds nothing here and instead feeds
// Dispatch from its own replication.Follower goroutine.
type Server struct {
	Manager *stash.Manager
	Leader  *replication.Leader
	Stats   Stats

	// ForceReadOnly makes every client connection read-only regardless of
	// which port it arrived on. A follower node sets this: local writes
	// are never accepted on either port, since the only legitimate source
	// of a mutation is its replication.Follower applying the master's
	// stream (which calls Dispatch directly, bypassing this gate).
	ForceReadOnly bool

	// ReadTimeout and WriteTimeout bound how long a client connection may
	// sit idle mid-read or mid-write before it is dropped. Zero disables
	// the corresponding deadline. They are not applied once a connection
	// has been handed off to a replication sink, which is expected to sit
	// idle between writes for arbitrarily long.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	primaryLn  net.Listener
	readOnlyLn net.Listener
}

// New constructs a Server. leader may be nil on a node with no followers.
func New(mgr *stash.Manager, leader *replication.Leader) *Server {
	return &Server{Manager: mgr, Leader: leader}
}

// Start binds both listeners and begins accepting connections in background
// goroutines. It returns once both listeners are bound.
func (s *Server) Start(primaryAddr, readOnlyAddr string) error {
	var err error
	s.primaryLn, err = net.Listen("tcp", primaryAddr)
	if err != nil {
		return err
	}
	s.readOnlyLn, err = net.Listen("tcp", readOnlyAddr)
	if err != nil {
		s.primaryLn.Close()
		return err
	}

	log.Printf("sstash: primary listener on %s", primaryAddr)
	log.Printf("sstash: read-only listener on %s", readOnlyAddr)

	go s.accept(s.primaryLn, false)
	go s.accept(s.readOnlyLn, true)
	return nil
}

func (s *Server) accept(ln net.Listener, readOnly bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.Stats.incConnections()
		go s.handleConnection(conn, readOnly || s.ForceReadOnly)
	}
}

// handleConnection decodes commands from conn until it closes, dispatching
// each to the stash manager and writing back exactly one reply per command.
// Any bytes left buffered in the decoder when the connection closes (a
// dangling partial command) are discarded rather than carried forward. A
// connection that sends REPLICA is handed off to a replication sink instead
// of being closed when this function returns.
func (s *Server) handleConnection(conn net.Conn, readOnly bool) {
	var dec wire.Decoder
	var pending [][]byte
	buf := make([]byte, 4096)
	w := bufio.NewWriter(conn)

	for {
		if s.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			toks, derr := dec.Decode()
			if derr != nil {
				log.Printf("sstash: framing error from %s: %v", conn.RemoteAddr(), derr)
				conn.Close()
				return
			}
			pending = append(pending, toks...)
			var werr error
			var handedOff bool
			pending, handedOff, werr = s.drain(w, pending, readOnly, conn)
			if handedOff {
				return
			}
			if werr != nil {
				log.Printf("sstash: write error to %s: %v", conn.RemoteAddr(), werr)
				conn.Close()
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("sstash: read error from %s: %v", conn.RemoteAddr(), err)
			}
			conn.Close()
			return
		}
	}
}

// drain applies every complete command buffered in pending. It reports
// whether conn was handed off to a replication sink, in which case the
// caller must stop reading from it and leave it open.
func (s *Server) drain(w *bufio.Writer, pending [][]byte, readOnly bool, conn net.Conn) ([][]byte, bool, error) {
	if s.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	}
	for {
		cmd, n, err := wire.ParseCommand(pending, wire.Verbs)
		if err == wire.ErrIncompleteCommand {
			return pending, false, nil
		}
		if err != nil {
			s.Stats.incErrors()
			reply := wire.ErrorReply("protocol-error")
			if _, werr := w.Write(reply.Encode()); werr != nil {
				return pending, false, werr
			}
			if werr := w.Flush(); werr != nil {
				return pending, false, werr
			}
			pending = pending[n:]
			continue
		}

		if cmd.Verb == wire.VerbReplica {
			if s.Leader == nil {
				reply := wire.ErrorReply("not-a-leader")
				if _, werr := w.Write(reply.Encode()); werr != nil {
					return pending, false, werr
				}
				if werr := w.Flush(); werr != nil {
					return pending, false, werr
				}
				pending = pending[n:]
				continue
			}
			conn.SetDeadline(time.Time{})
			s.Leader.AddFollower(conn)
			return pending[n:], true, nil
		}

		s.Stats.incOps()
		reply := Dispatch(s.Manager, cmd, readOnly)
		if reply.Kind == wire.ReplyError {
			s.Stats.incErrors()
		}
		if _, werr := w.Write(reply.Encode()); werr != nil {
			return pending, false, werr
		}
		if werr := w.Flush(); werr != nil {
			return pending, false, werr
		}
		pending = pending[n:]
	}
}

// Stop closes both listeners and the replication leader, if any. It does
// not touch the stash manager or any snapshot scheduler; callers coordinate
// those separately during shutdown.
func (s *Server) Stop() {
	if s.primaryLn != nil {
		s.primaryLn.Close()
	}
	if s.readOnlyLn != nil {
		s.readOnlyLn.Close()
	}
	if s.Leader != nil {
		s.Leader.Close()
	}
}
