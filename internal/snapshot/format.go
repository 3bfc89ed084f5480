// Package snapshot persists a stash's contents to disk and restores them at
// startup: a staging file written and fsynced, then atomically renamed over
// the committed file, following the stage-then-rename durability pattern
// used by hashicorp/serf's Snapshotter for its own append log.
package snapshot

import "errors"

// magic and version identify the on-disk format and guard against reading a
// file written by an incompatible version.
const (
	magic   uint32 = 0x53535348 // "SSSH"
	version uint16 = 1
)

// ErrMalformedSnapshot marks a header or record that doesn't parse; restore
// stops at the first malformed record but keeps whatever was already
// loaded.
var ErrMalformedSnapshot = errors.New("sstash: malformed snapshot")

// fileExt and stagingExt name a stash's committed and staging snapshot
// files within the configured data directory.
const (
	fileExt    = ".snap"
	stagingExt = ".snap.staging"
)
