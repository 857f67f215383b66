package rewardd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/stathat/consistent"
	"golang.org/x/sync/errgroup"

	"finova/core/events"
	"finova/core/params"
	"finova/core/types"
	"finova/observability/metrics"
	"finova/services/rewardd/export"
)

// TickReport summarises one scheduler tick.
type TickReport struct {
	Advanced   bool
	Epoch      uint64
	Recomputed int
	Updates    int
	Failed     int
	Exported   []string
}

// Scheduler advances the parameter epoch and revalues the referral forest
// once per epoch.
type Scheduler struct {
	svc       *Service
	workers   int
	exportDir string
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewScheduler builds a scheduler for svc.
func NewScheduler(svc *Service, cfg SchedulerConfig, exportDir string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{svc: svc, workers: workers, exportDir: exportDir, logger: logger, now: time.Now}
}

// Run ticks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx, s.now()); err != nil {
			s.logger.Error("scheduler tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick advances to the epoch containing now. Nothing happens while the
// active epoch is current.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.svc.Params()
	epoch := types.EpochOf(now)
	report := TickReport{Epoch: current.Epoch}
	if epoch <= current.Epoch {
		return report, nil
	}
	next, err := current.Advance(epoch, uint64(s.svc.Graph().Len()))
	if err != nil {
		return report, err
	}
	if err := s.svc.SetParams(next); err != nil {
		return report, err
	}
	report.Advanced = true
	report.Epoch = epoch

	recomputed, updates, failed, err := s.recompute(ctx, next)
	report.Recomputed, report.Updates, report.Failed = recomputed, updates, failed
	if err != nil {
		return report, err
	}

	if s.exportDir != "" {
		paths, err := s.export(current.Epoch, epoch)
		report.Exported = paths
		if err != nil {
			return report, err
		}
	}
	s.logger.Info("epoch advanced",
		slog.Uint64("epoch", epoch),
		slog.Int("roots", recomputed),
		slog.Int("updates", updates),
		slog.Int("failed", failed))
	return report, nil
}

// recompute spreads the forest's roots over the worker pool. Each root is
// owned by exactly one worker so a tree is never revalued twice in a tick.
func (s *Scheduler) recompute(ctx context.Context, p *params.NetworkParameters) (int, int, int, error) {
	roots := s.svc.Graph().Roots()
	if len(roots) == 0 {
		return 0, 0, 0, nil
	}
	ring := consistent.New()
	for i := 0; i < s.workers; i++ {
		ring.Add("worker-" + strconv.Itoa(i))
	}
	buckets := make(map[string][]types.AccountID, s.workers)
	for _, root := range roots {
		worker, err := ring.Get(string(root))
		if err != nil {
			return 0, 0, 0, err
		}
		buckets[worker] = append(buckets[worker], root)
	}

	var (
		mu      sync.Mutex
		updates int
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, bucket := range buckets {
		bucket := bucket
		g.Go(func() error {
			for _, root := range bucket {
				if err := gctx.Err(); err != nil {
					return err
				}
				batch, err := s.svc.Graph().RecomputeRoot(gctx, root, p)
				if err != nil {
					if errors.Is(err, types.ErrStaleSnapshot) {
						metrics.Rewards().ObserveStale()
					}
					metrics.Rewards().ObservePropagation("recompute_error")
					s.logger.Warn("recompute failed", slog.String("root", string(root)), slog.Any("error", err))
					mu.Lock()
					failed++
					mu.Unlock()
					continue
				}
				metrics.Rewards().ObservePropagation("recompute")
				s.emit(batch)
				mu.Lock()
				updates += len(batch)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return len(roots), updates, failed, err
}

func (s *Scheduler) emit(batch []events.NetworkValueUpdate) {
	for _, u := range batch {
		s.svc.emitter.Emit(u)
	}
}

// export writes one parquet file per closed epoch in [from, to).
func (s *Scheduler) export(from, to uint64) ([]string, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: create export dir: %w", err)
	}
	var paths []string
	for epoch := from; epoch < to; epoch++ {
		path, n, err := export.Epoch(s.svc.Ledger(), epoch, s.exportDir)
		if err != nil {
			return paths, err
		}
		if n == 0 {
			_ = os.Remove(path)
			continue
		}
		paths = append(paths, path)
		s.logger.Info("epoch exported", slog.Uint64("epoch", epoch), slog.Int("records", n), slog.String("path", path))
	}
	return paths, nil
}
