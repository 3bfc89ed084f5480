package snapshot

import (
	"log"
	"time"

	"sstash/internal/stash"
)

// Scheduler runs the periodic, per-stash snapshot tick: on each fire, every
// stash with pending mutations since its last snapshot is written to disk.
// This generalizes the teacher's single ticker-driven background sweep
// (cleanupExpiredKeys in server.go) from a fixed expiry interval to a
// configurable snapshot interval applied across the whole stash directory.
type Scheduler struct {
	dataDir  string
	interval time.Duration
	mgr      *stash.Manager
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler constructs a scheduler; call Start to begin ticking.
func NewScheduler(dataDir string, interval time.Duration, mgr *stash.Manager) *Scheduler {
	return &Scheduler{
		dataDir:  dataDir,
		interval: interval,
		mgr:      mgr,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the ticker loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	s.mgr.Each(func(st *stash.Stash) {
		if err := WriteIfDirty(s.dataDir, st); err != nil {
			log.Printf("sstash: snapshot of %q failed, will retry next tick: %v", st.Name, err)
		}
	})
}

// Stop requests the ticker goroutine to exit. Shutdown is cooperative: the
// in-flight tick, if any, is not guaranteed to finish first.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// FlushAll performs one best-effort write-if-dirty pass over every stash,
// used at process shutdown.
func (s *Scheduler) FlushAll() {
	s.tick()
}
