package wire

import (
	"errors"
	"strconv"
)

// ErrIncompleteCommand signals that the token queue does not yet hold a
// full command. The caller must leave the queue untouched and wait for
// more bytes — this protocol has no end-of-command marker, so an
// incomplete command and a not-yet-arrived one are indistinguishable until
// either more bytes arrive or the connection closes.
var ErrIncompleteCommand = errors.New("sstash: incomplete command")

// ErrUnknownVerb signals a verb absent from the verb table.
var ErrUnknownVerb = errors.New("sstash: unknown command")

// ErrBadOptArgs signals a malformed num_opt_args field or an empty
// optional-argument key.
var ErrBadOptArgs = errors.New("sstash: malformed optional argument")

// ErrTooManyOptArgs signals num_opt_args exceeding MaxOptArgs.
var ErrTooManyOptArgs = errors.New("sstash: too many optional arguments")

// MaxOptArgs bounds the number of optional KEY VALUE pairs a command may
// declare, per spec's "fixed cap" requirement.
const MaxOptArgs = 8

// Command is a parsed request: a verb, its required positional arguments in
// order, and any optional NAME=value arguments (currently only NAME is
// used, but the protocol allows an arbitrary, bounded set).
type Command struct {
	Verb string
	Args []string
	Opts map[string]string
}

// ParseCommand attempts to parse exactly one command from the front of
// tokens. On success it returns the command and the number of tokens it
// consumed. On ErrIncompleteCommand it returns consumed == 0 and the caller
// must not advance its queue. On any other error it returns the number of
// tokens to discard so the dispatcher can skip the bad command and resume.
func ParseCommand(tokens [][]byte, specs map[string]VerbSpec) (*Command, int, error) {
	if len(tokens) < 1 {
		return nil, 0, ErrIncompleteCommand
	}
	verb := string(tokens[0])
	spec, ok := specs[verb]
	if !ok {
		return nil, 1, ErrUnknownVerb
	}

	idx := 1
	need := idx + spec.RequiredArgs
	if len(tokens) < need {
		return nil, 0, ErrIncompleteCommand
	}
	args := make([]string, spec.RequiredArgs)
	for i := 0; i < spec.RequiredArgs; i++ {
		args[i] = string(tokens[idx])
		idx++
	}

	if len(tokens) < idx+1 {
		return nil, 0, ErrIncompleteCommand
	}
	numOpt, err := strconv.Atoi(string(tokens[idx]))
	if err != nil || numOpt < 0 {
		return nil, idx + 1, ErrBadOptArgs
	}
	if numOpt > MaxOptArgs {
		return nil, idx + 1, ErrTooManyOptArgs
	}
	idx++

	needed := idx + numOpt*2
	if len(tokens) < needed {
		return nil, 0, ErrIncompleteCommand
	}
	opts := make(map[string]string, numOpt)
	for i := 0; i < numOpt; i++ {
		key := string(tokens[idx])
		val := string(tokens[idx+1])
		if key == "" {
			return nil, idx + 2, ErrBadOptArgs
		}
		opts[key] = val
		idx += 2
	}

	return &Command{Verb: verb, Args: args, Opts: opts}, idx, nil
}

// EncodeCommand re-serializes cmd into its wire form: the verb, its
// positional args, the opt-arg count, and each KEY/VALUE pair, each
// individually length-prefixed and concatenated. This is what the
// replication leader uses to forward a mutating command to its followers.
func EncodeCommand(cmd *Command) []byte {
	var out []byte
	out = append(out, EncodeToken([]byte(cmd.Verb))...)
	for _, a := range cmd.Args {
		out = append(out, EncodeToken([]byte(a))...)
	}
	out = append(out, EncodeToken([]byte(strconv.Itoa(len(cmd.Opts))))...)
	for k, v := range cmd.Opts {
		out = append(out, EncodeToken([]byte(k))...)
		out = append(out, EncodeToken([]byte(v))...)
	}
	return out
}
