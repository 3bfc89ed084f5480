package server

import (
	"net"
	"testing"
	"time"

	"sstash/internal/replication"
	"sstash/internal/snapshot"
	"sstash/internal/stash"
	"sstash/internal/wire"
)

func newTestManager(t *testing.T) *stash.Manager {
	t.Helper()
	mgr, err := stash.NewManager(t.TempDir(), 8, 16, 1000)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

// client is a minimal synchronous test harness speaking the wire protocol
// over a real TCP connection.
type client struct {
	t    *testing.T
	conn net.Conn
	dec  wire.Decoder
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	return &client{t: t, conn: conn}
}

func (c *client) send(verb string, args []string, opts map[string]string) wire.Reply {
	c.t.Helper()
	cmd := &wire.Command{Verb: verb, Args: args, Opts: opts}
	if _, err := c.conn.Write(wire.EncodeCommand(cmd)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	return c.readReply()
}

func (c *client) readReply() wire.Reply {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.t.Fatalf("read: %v", err)
		}
		c.dec.Feed(buf[:n])
		toks, derr := c.dec.Decode()
		if derr != nil {
			c.t.Fatalf("decode: %v", derr)
		}
		if len(toks) > 0 {
			reply, err := wire.DecodeReply(toks[0])
			if err != nil {
				c.t.Fatalf("decode reply: %v", err)
			}
			return reply
		}
	}
}

func (c *client) close() { c.conn.Close() }

func startServer(t *testing.T, srv *Server) (primaryAddr, readOnlyAddr string) {
	t.Helper()
	if err := srv.Start("127.0.0.1:0", "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv.primaryLn.Addr().String(), srv.readOnlyLn.Addr().String()
}

func TestSetGetDeleteOverTCP(t *testing.T) {
	mgr := newTestManager(t)
	srv := New(mgr, nil)
	primary, _ := startServer(t, srv)

	c := dial(t, primary)
	defer c.close()

	if r := c.send(wire.VerbSet, []string{"k", "v"}, nil); r.Kind != wire.ReplyOK {
		t.Fatalf("SET: %+v", r)
	}
	if r := c.send(wire.VerbGet, []string{"k"}, nil); r.Kind != wire.ReplyValue || string(r.Payload) != "v" {
		t.Fatalf("GET: %+v", r)
	}
	if r := c.send(wire.VerbDelete, []string{"k"}, nil); r.Kind != wire.ReplyOK {
		t.Fatalf("DELETE: %+v", r)
	}
	if r := c.send(wire.VerbGet, []string{"k"}, nil); r.Kind != wire.ReplyError {
		t.Fatalf("expected not-found after delete, got %+v", r)
	}
}

func TestTTLExpiryOverTCP(t *testing.T) {
	mgr := newTestManager(t)
	srv := New(mgr, nil)
	primary, _ := startServer(t, srv)

	c := dial(t, primary)
	defer c.close()

	if r := c.send(wire.VerbSetTTL, []string{"k", "v", "20"}, nil); r.Kind != wire.ReplyOK {
		t.Fatalf("SETTTL: %+v", r)
	}
	if r := c.send(wire.VerbGet, []string{"k"}, nil); r.Kind != wire.ReplyValue {
		t.Fatalf("expected value before expiry: %+v", r)
	}
	time.Sleep(40 * time.Millisecond)
	if r := c.send(wire.VerbGet, []string{"k"}, nil); r.Kind != wire.ReplyError {
		t.Fatalf("expected expiry, got %+v", r)
	}
}

func TestReadOnlyPortRejectsWrites(t *testing.T) {
	mgr := newTestManager(t)
	srv := New(mgr, nil)
	_, readOnly := startServer(t, srv)

	c := dial(t, readOnly)
	defer c.close()

	if r := c.send(wire.VerbSet, []string{"k", "v"}, nil); r.Kind != wire.ReplyError {
		t.Fatalf("expected read-only rejection, got %+v", r)
	}
}

func TestCreateAndDropStashOverTCP(t *testing.T) {
	mgr := newTestManager(t)
	srv := New(mgr, nil)
	primary, _ := startServer(t, srv)

	c := dial(t, primary)
	defer c.close()

	if r := c.send(wire.VerbCreate, []string{"other", "10", "false"}, nil); r.Kind != wire.ReplyOK {
		t.Fatalf("CREATE: %+v", r)
	}
	if r := c.send(wire.VerbSet, []string{"k", "v"}, map[string]string{"NAME": "other"}); r.Kind != wire.ReplyOK {
		t.Fatalf("SET into other stash: %+v", r)
	}
	if r := c.send(wire.VerbGet, []string{"k"}, nil); r.Kind != wire.ReplyError {
		t.Fatalf("expected default stash to be unaffected, got %+v", r)
	}
	if r := c.send(wire.VerbDrop, []string{"other"}, nil); r.Kind != wire.ReplyOK {
		t.Fatalf("DROP: %+v", r)
	}
	if r := c.send(wire.VerbDrop, []string{"default"}, nil); r.Kind != wire.ReplyError {
		t.Fatalf("expected default stash to refuse drop, got %+v", r)
	}
}

func TestLeaderReplicatesToFollowerNode(t *testing.T) {
	leaderMgr := newTestManager(t)
	leader := replication.NewLeader(4096)
	leaderMgr.SetNotifier(leader)
	leaderSrv := New(leaderMgr, leader)
	primary, _ := startServer(t, leaderSrv)

	followerMgr := newTestManager(t)
	applied := make(chan struct{}, 8)
	follower := replication.NewFollower(primary, func(cmd *wire.Command) error {
		r := Dispatch(followerMgr, cmd, false)
		applied <- struct{}{}
		if r.Kind == wire.ReplyError {
			t.Logf("follower apply error: %s", r.Payload)
		}
		return nil
	})
	go follower.Run()
	defer follower.Stop()

	// Give the follower a moment to dial before the leader writes, since
	// Notify only reaches sinks already registered at call time.
	deadline := time.After(2 * time.Second)
	for leader.FollowerCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("follower never connected to leader")
		case <-time.After(10 * time.Millisecond):
		}
	}

	c := dial(t, primary)
	defer c.close()
	if r := c.send(wire.VerbSet, []string{"k", "v"}, nil); r.Kind != wire.ReplyOK {
		t.Fatalf("SET: %+v", r)
	}

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("follower never applied replicated SET")
	}

	s, err := followerMgr.Get(stash.DefaultStashName)
	if err != nil {
		t.Fatalf("Get stash: %v", err)
	}
	v, ok, err := s.Get("k", true)
	if err != nil || !ok || v != "v" {
		t.Fatalf("follower state after replication: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestSnapshotRestoreAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()

	mgr1, err := stash.NewManager(dataDir, 8, 16, 1000)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	srv1 := New(mgr1, nil)
	primary, _ := startServer(t, srv1)

	c := dial(t, primary)
	if r := c.send(wire.VerbSet, []string{"k", "v"}, nil); r.Kind != wire.ReplyOK {
		t.Fatalf("SET: %+v", r)
	}
	c.close()

	s, err := mgr1.Get(stash.DefaultStashName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := snapshot.Write(dataDir, s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	srv1.Stop()

	mgr2, err := stash.NewManager(dataDir, 8, 16, 1000)
	if err != nil {
		t.Fatalf("NewManager (restart): %v", err)
	}
	if err := snapshot.Restore(dataDir, mgr2); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	srv2 := New(mgr2, nil)
	primary2, _ := startServer(t, srv2)

	c2 := dial(t, primary2)
	defer c2.close()
	if r := c2.send(wire.VerbGet, []string{"k"}, nil); r.Kind != wire.ReplyValue || string(r.Payload) != "v" {
		t.Fatalf("expected restored value after restart, got %+v", r)
	}
}
