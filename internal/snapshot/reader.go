package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sstash/internal/stash"
)

func nowMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// Restore loads every committed snapshot file in dataDir into mgr. A stash
// without a committed file starts empty; that is not an error.
func Restore(dataDir string, mgr *stash.Manager) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sstash: listing data dir: %w", err)
	}

	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasSuffix(name, stagingExt) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		path := filepath.Join(dataDir, name)
		if err := restoreFile(path, mgr); err != nil {
			log.Printf("sstash: restoring snapshot %s: %v", path, err)
		}
	}
	return nil
}

func restoreFile(path string, mgr *stash.Manager) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	stashName, maxKeyCount, offHeap, err := readHeader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	if stashName != stash.DefaultStashName {
		if err := mgr.Create(stashName, maxKeyCount, offHeap); err != nil && err != stash.ErrStashExists {
			return err
		}
	}
	s, err := mgr.Get(stashName)
	if err != nil {
		return err
	}

	now := nowMs()
	for {
		key, value, expiresAt, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("sstash: truncating restore of %q at malformed record: %v", stashName, err)
			break
		}
		if expiresAt != 0 && expiresAt <= now {
			continue
		}
		if err := s.InsertRestored(key, value, expiresAt); err != nil {
			log.Printf("sstash: restoring key %q into %q: %v", key, stashName, err)
		}
	}
	return nil
}

func readHeader(r *bufio.Reader) (name string, maxKeyCount int, offHeap bool, err error) {
	var hdr [8]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		err = fmt.Errorf("bad magic")
		return
	}
	if binary.LittleEndian.Uint16(hdr[4:6]) != version {
		err = fmt.Errorf("unsupported version")
		return
	}
	nameLen := binary.LittleEndian.Uint16(hdr[6:8])

	nameBuf := make([]byte, nameLen)
	if _, err = io.ReadFull(r, nameBuf); err != nil {
		return
	}
	name = string(nameBuf)

	var tail [9]byte
	if _, err = io.ReadFull(r, tail[:]); err != nil {
		return
	}
	maxKeyCount = int(binary.LittleEndian.Uint64(tail[0:8]))
	offHeap = tail[8] != 0
	return
}

func readRecord(r *bufio.Reader) (key, value string, expiresAt int64, err error) {
	var keyLen [4]byte
	if _, err = io.ReadFull(r, keyLen[:]); err != nil {
		return "", "", 0, err
	}
	kb := make([]byte, binary.LittleEndian.Uint32(keyLen[:]))
	if _, e := io.ReadFull(r, kb); e != nil {
		return "", "", 0, io.ErrUnexpectedEOF
	}

	var valLen [4]byte
	if _, e := io.ReadFull(r, valLen[:]); e != nil {
		return "", "", 0, io.ErrUnexpectedEOF
	}
	vb := make([]byte, binary.LittleEndian.Uint32(valLen[:]))
	if _, e := io.ReadFull(r, vb); e != nil {
		return "", "", 0, io.ErrUnexpectedEOF
	}

	var exp [8]byte
	if _, e := io.ReadFull(r, exp[:]); e != nil {
		return "", "", 0, io.ErrUnexpectedEOF
	}
	return string(kb), string(vb), int64(binary.LittleEndian.Uint64(exp[:])), nil
}
