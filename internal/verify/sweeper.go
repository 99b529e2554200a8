package verify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

// RepairOrphans re-snapshots items for sessions started before cutoff that
// own none. Sessions whose lead is gone or whose recorded field count no
// longer matches the canonical list are logged and skipped.
func (s *Service) RepairOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	orphans, err := s.store.ListOrphanSessions(ctx, cutoff)
	if err != nil {
		return 0, model.Persistence("list orphan sessions", err)
	}

	repaired := 0
	for _, sess := range orphans {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if err := s.repair(ctx, sess); err != nil {
			s.logger.Warn("orphan repair skipped", "session_id", sess.ID, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

func (s *Service) repair(ctx context.Context, sess *model.Session) error {
	lead, err := s.store.GetLead(ctx, sess.SubmissionID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}
	items, err := BuildItems(sess.ID, lead, s.now())
	if err != nil {
		return err
	}
	if err := model.ValidateItems(sess, items); err != nil {
		return err
	}
	return s.store.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.CreateItems(ctx, items)
	})
}

// Sweeper runs RepairOrphans on an interval.
type Sweeper struct {
	svc      *Service
	grace    time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper returns a sweeper that repairs sessions older than grace.
func NewSweeper(svc *Service, grace, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, grace: grace, interval: interval, logger: logger}
}

// Start begins the sweep loop in a background goroutine.
func (sw *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sw.cancel = cancel
	sw.wg.Add(1)
	go sw.run(ctx)
	sw.logger.Info("orphan sweeper started", "interval", sw.interval, "grace", sw.grace)
}

// Stop cancels the loop and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.wg.Wait()
}

func (sw *Sweeper) run(ctx context.Context) {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.svc.RepairOrphans(ctx, sw.svc.now().Add(-sw.grace))
			if err != nil {
				sw.logger.Error("orphan sweep failed", "error", err)
			} else if n > 0 {
				sw.logger.Info("orphan sessions repaired", "count", n)
			}
		}
	}
}
