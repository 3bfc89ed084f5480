package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"sstash/internal/stash"
)

// WriteIfDirty performs the writer protocol for one stash: if it has no
// pending mutations since the last snapshot, it does nothing. Otherwise it
// writes a full point-in-time dump and clears the dirty flag only once the
// commit succeeds, so a failed write is retried on the next tick.
func WriteIfDirty(dataDir string, s *stash.Stash) error {
	if !s.Dirty() {
		return nil
	}
	if err := Write(dataDir, s); err != nil {
		return err
	}
	s.ClearDirty()
	return nil
}

// Write unconditionally performs one stage-write-fsync-rename cycle for s,
// the same staging-file-then-atomic-rename protocol hashicorp/serf's
// Snapshotter uses for its own append log.
func Write(dataDir string, s *stash.Stash) error {
	stagingPath := filepath.Join(dataDir, s.Name+stagingExt)
	committedPath := filepath.Join(dataDir, s.Name+fileExt)

	f, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("sstash: opening staging snapshot for %q: %w", s.Name, err)
	}

	w := bufio.NewWriter(f)
	if err := writeHeader(w, s); err != nil {
		f.Close()
		return fmt.Errorf("sstash: writing snapshot header for %q: %w", s.Name, err)
	}

	var writeErr error
	s.Range(func(key, value string, expiresAtMs int64) bool {
		if err := writeRecord(w, key, value, expiresAtMs); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		f.Close()
		return fmt.Errorf("sstash: writing snapshot records for %q: %w", s.Name, writeErr)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("sstash: flushing snapshot for %q: %w", s.Name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sstash: fsyncing snapshot for %q: %w", s.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sstash: closing snapshot for %q: %w", s.Name, err)
	}

	if err := os.Rename(stagingPath, committedPath); err != nil {
		return fmt.Errorf("sstash: committing snapshot for %q: %w", s.Name, err)
	}
	return nil
}

func writeHeader(w *bufio.Writer, s *stash.Stash) error {
	var hdr [4 + 2 + 2]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magic)
	binary.LittleEndian.PutUint16(hdr[4:6], version)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(len(s.Name)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(s.Name); err != nil {
		return err
	}

	var tail [8 + 1]byte
	binary.LittleEndian.PutUint64(tail[0:8], uint64(s.MaxKeyCount))
	if s.OffHeap {
		tail[8] = 1
	}
	_, err := w.Write(tail[:])
	return err
}

func writeRecord(w *bufio.Writer, key, value string, expiresAtMs int64) error {
	var keyLen [4]byte
	binary.LittleEndian.PutUint32(keyLen[:], uint32(len(key)))
	if _, err := w.Write(keyLen[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(key); err != nil {
		return err
	}

	var valLen [4]byte
	binary.LittleEndian.PutUint32(valLen[:], uint32(len(value)))
	if _, err := w.Write(valLen[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(value); err != nil {
		return err
	}

	var exp [8]byte
	binary.LittleEndian.PutUint64(exp[:], uint64(expiresAtMs))
	_, err := w.Write(exp[:])
	return err
}
