// Package server hosts the TCP listeners, per-connection dispatch loop,
// and verb handler table that ties the wire codec to the stash manager.
package server

import (
	"strconv"

	"sstash/internal/stash"
	"sstash/internal/wire"
)

// handler executes one parsed command against mgr and returns the reply to
// send back. It never returns a Go error: every failure mode is expressed
// as an ERROR reply, per the wire protocol's "every command yields exactly
// one reply" rule.
type handler func(mgr *stash.Manager, cmd *wire.Command) wire.Reply

// handlers is the static verb -> handler dispatch table, replacing the
// teacher's switch-based processCommand with the declarative table called
// for by the "command objects become a static dispatch table"
// re-architecture.
var handlers = map[string]handler{
	wire.VerbGet:       handleGet,
	wire.VerbInfo:      handleInfo,
	wire.VerbSet:       handleSet,
	wire.VerbSetTTL:    handleSetTTL,
	wire.VerbDelete:    handleDelete,
	wire.VerbUpdateTTL: handleUpdateTTL,
	wire.VerbCreate:    handleCreate,
	wire.VerbDrop:      handleDrop,
}

// Dispatch executes cmd against mgr, applying the read-only gate when
// readOnly is true. A successful write is forwarded to the manager's
// replication notifier (a no-op on a node with none installed) from
// inside the stash/manager method that applied it, under the same lock,
// not from here — Dispatch itself never calls Notify. A follower applying
// its master's stream calls this with readOnly=false to bypass the gate
// for that single internal channel.
func Dispatch(mgr *stash.Manager, cmd *wire.Command, readOnly bool) wire.Reply {
	spec, ok := wire.Verbs[cmd.Verb]
	if !ok {
		return wire.ErrorReply("invalid-command")
	}
	if readOnly && spec.Class == wire.WriteClass {
		return wire.ErrorReply("read-only")
	}

	h, ok := handlers[cmd.Verb]
	if !ok {
		return wire.ErrorReply("invalid-command")
	}
	return h(mgr, cmd)
}

func stashName(cmd *wire.Command) string {
	if n, ok := cmd.Opts["NAME"]; ok {
		return n
	}
	return stash.DefaultStashName
}

func targetStash(mgr *stash.Manager, cmd *wire.Command) (*stash.Stash, *wire.Reply) {
	s, err := mgr.Get(stashName(cmd))
	if err != nil {
		r := errToReply(err)
		return nil, &r
	}
	return s, nil
}

func errToReply(err error) wire.Reply {
	switch err {
	case stash.ErrCapacityFull:
		return wire.ErrorReply("capacity-full")
	case stash.ErrKeyTooLong:
		return wire.ErrorReply("key-too-long")
	case stash.ErrValueTooLong:
		return wire.ErrorReply("value-too-long")
	case stash.ErrNameTooLong:
		return wire.ErrorReply("name-too-long")
	case stash.ErrStashClosed:
		return wire.ErrorReply("stash-does-not-exist")
	case stash.ErrStashNotFound:
		return wire.ErrorReply("stash-does-not-exist")
	case stash.ErrStashExists:
		return wire.ErrorReply("stash-already-exists")
	case stash.ErrCannotDropDefault:
		return wire.ErrorReply("cannot-drop-default-stash")
	case stash.ErrTooManyStashes:
		return wire.ErrorReply("too-many-stashes")
	default:
		return wire.ErrorReply("internal-error")
	}
}

func handleGet(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	s, errReply := targetStash(mgr, cmd)
	if errReply != nil {
		return *errReply
	}
	v, ok, err := s.Get(cmd.Args[0], false)
	if err != nil {
		return errToReply(err)
	}
	if !ok {
		return wire.ErrorReply("not-found")
	}
	return wire.ValueReply([]byte(v))
}

func handleInfo(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	s, errReply := targetStash(mgr, cmd)
	if errReply != nil {
		return *errReply
	}
	info := "name=" + s.Name + " keys=" + strconv.FormatInt(s.Len(), 10) +
		" max_key_count=" + strconv.Itoa(s.MaxKeyCount) + " off_heap=" + strconv.FormatBool(s.OffHeap)
	return wire.ValueReply([]byte(info))
}

func handleSet(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	s, errReply := targetStash(mgr, cmd)
	if errReply != nil {
		return *errReply
	}
	if err := s.Set(cmd.Args[0], cmd.Args[1]); err != nil {
		return errToReply(err)
	}
	return wire.OKReply
}

func handleSetTTL(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	s, errReply := targetStash(mgr, cmd)
	if errReply != nil {
		return *errReply
	}
	ttlMs, err := strconv.ParseInt(cmd.Args[2], 10, 64)
	if err != nil {
		return wire.ErrorReply("protocol-error")
	}
	if err := s.SetWithTTL(cmd.Args[0], cmd.Args[1], ttlMs); err != nil {
		return errToReply(err)
	}
	return wire.OKReply
}

func handleDelete(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	s, errReply := targetStash(mgr, cmd)
	if errReply != nil {
		return *errReply
	}
	s.Delete(cmd.Args[0])
	return wire.OKReply
}

func handleUpdateTTL(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	s, errReply := targetStash(mgr, cmd)
	if errReply != nil {
		return *errReply
	}
	ttlMs, err := strconv.ParseInt(cmd.Args[1], 10, 64)
	if err != nil {
		return wire.ErrorReply("protocol-error")
	}
	if !s.UpdateTTL(cmd.Args[0], ttlMs) {
		return wire.ErrorReply("not-found")
	}
	return wire.OKReply
}

func handleCreate(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	maxKeyCount, err := strconv.Atoi(cmd.Args[1])
	if err != nil {
		return wire.ErrorReply("protocol-error")
	}
	offHeap, err := strconv.ParseBool(cmd.Args[2])
	if err != nil {
		return wire.ErrorReply("protocol-error")
	}
	if err := mgr.Create(cmd.Args[0], maxKeyCount, offHeap); err != nil {
		return errToReply(err)
	}
	return wire.OKReply
}

func handleDrop(mgr *stash.Manager, cmd *wire.Command) wire.Reply {
	if err := mgr.Drop(cmd.Args[0]); err != nil {
		return errToReply(err)
	}
	return wire.OKReply
}
