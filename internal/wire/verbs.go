package wire

// CommandClass distinguishes verbs that only read a stash from verbs that
// mutate one. A read-only connection rejects every write-class command.
type CommandClass int

const (
	ReadClass CommandClass = iota
	WriteClass
)

// Verb names, exactly as they appear on the wire.
const (
	VerbGet       = "GET"
	VerbInfo      = "INFO"
	VerbSet       = "SET"
	VerbSetTTL    = "SETTTL"
	VerbDelete    = "DELETE"
	VerbUpdateTTL = "UPDATETTL"
	VerbCreate    = "CREATE"
	VerbDrop      = "DROP"

	// VerbReplica is sent once, by a follower, immediately after dialing a
	// leader's listener. It carries no args. The server intercepts it ahead
	// of normal dispatch; on a leader it sends no reply, registers the
	// connection as a replication sink, and hands the connection off to
	// that sink's writer goroutine instead of continuing to read commands
	// from it. A server with no leader replies ERROR not-a-leader.
	VerbReplica = "REPLICA"
)

// VerbSpec declares how many required positional arguments a verb takes
// (beyond the verb token itself) and whether it reads or writes.
type VerbSpec struct {
	Verb         string
	RequiredArgs int
	Class        CommandClass
}

// Verbs is the static verb table: the generalization of the teacher's
// switch-dispatched command set into a declarative table, as called for by
// the "command objects discovered by class-path scanning become a static
// dispatch table" re-architecture note.
var Verbs = map[string]VerbSpec{
	VerbGet:       {VerbGet, 1, ReadClass},
	VerbInfo:      {VerbInfo, 0, ReadClass},
	VerbSet:       {VerbSet, 2, WriteClass},
	VerbSetTTL:    {VerbSetTTL, 3, WriteClass},
	VerbDelete:    {VerbDelete, 1, WriteClass},
	VerbUpdateTTL: {VerbUpdateTTL, 2, WriteClass},
	VerbCreate:    {VerbCreate, 3, WriteClass},
	VerbDrop:      {VerbDrop, 1, WriteClass},
	VerbReplica:   {VerbReplica, 0, ReadClass},
}
