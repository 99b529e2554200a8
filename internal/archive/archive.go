// Package archive periodically exports closed-out verification sessions,
// their items and the related call log as JSONL to object storage.
package archive

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/store"
)

// Destination receives one JSONL export per call.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports newly closed sessions on an interval. A session counts
// as archived once any destination accepted an export containing it; the
// record is kept in memory, so a restart archives everything again.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	archived map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		archived:     make(map[string]bool),
	}
}

// Start exports immediately and then on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ExportOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ExportOnce(ctx)
			}
		}
	}()
}

// Stop waits for an export in flight to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// ExportOnce writes sessions closed since the last successful export to
// every destination and returns how many it archived. Sessions stay pending
// when every destination fails.
func (s *Scheduler) ExportOnce(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	ids, err := ExportJSONL(ctx, s.store, &buf, s.archived)
	if err != nil {
		s.logger.Error("archive export failed", "error", err)
		return 0
	}
	if len(ids) == 0 {
		s.logger.Debug("archive skipped, no newly closed sessions")
		return 0
	}
	data := buf.Bytes()

	written := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("archive destination write failed", "destination", i, "error", err)
			continue
		}
		written++
	}
	if written == 0 {
		s.logger.Warn("archive not written to any destination; will retry", "sessions", len(ids))
		return 0
	}

	for _, id := range ids {
		s.archived[id] = true
	}
	s.logger.Info("archive completed", "sessions", len(ids), "destinations", written, "bytes", len(data))
	return len(ids)
}
