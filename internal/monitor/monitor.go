// Package monitor runs the poll cycle: fetch the catalog, detect changes,
// persist the snapshot and fan notifications out.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stock_monitor/internal/catalog"
	"stock_monitor/internal/detector"
	"stock_monitor/internal/fanout"
	"stock_monitor/internal/model"
	"stock_monitor/internal/snapshot"
)

// ErrLeaseHeld is returned by RunCycle when another process owns the cycle lease.
var ErrLeaseHeld = errors.New("cycle lease held by another process")

// Fetcher downloads the full catalog.
type Fetcher interface {
	FetchAll(ctx context.Context) (*catalog.Catalog, error)
}

// Dispatcher fans changes and price alerts out to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, changes []model.Change, items []model.Item) fanout.Stats
}

// Scheduler periodically runs the poll cycle.
type Scheduler struct {
	fetcher   Fetcher
	snapshots *snapshot.Store
	fanout    Dispatcher
	lease     *Lease
	log       *slog.Logger
	tick      time.Duration
	now       func() time.Time
}

// New creates a Scheduler with a one-minute interval.
func New(fetcher Fetcher, snapshots *snapshot.Store, fanout Dispatcher, log *slog.Logger) *Scheduler {
	return &Scheduler{
		fetcher:   fetcher,
		snapshots: snapshots,
		fanout:    fanout,
		log:       log,
		tick:      1 * time.Minute,
		now:       time.Now,
	}
}

// SetTickInterval overrides the default 1-minute check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetLease makes every cycle acquire l first. Without a lease overlapping
// cycles are not excluded.
func (s *Scheduler) SetLease(l *Lease) {
	s.lease = l
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runLogged(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			s.log.Info("skipping cycle", "reason", err)
			return
		}
		s.log.Error("run cycle", "error", err)
	}
}

// RunCycle performs one poll cycle and returns the status it persisted.
// A fetch failure aborts the cycle before anything is written.
func (s *Scheduler) RunCycle(ctx context.Context) (*model.CheckResult, error) {
	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !held {
			return nil, ErrLeaseHeld
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Error("release lease", "error", err)
			}
		}()
	}

	cat, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	prev, err := s.snapshots.Load(ctx)
	if err != nil {
		return nil, err
	}

	res := detector.Detect(cat.Items, prev)

	if err := s.snapshots.Save(ctx, res.Snapshot); err != nil {
		return nil, err
	}
	status := &model.CheckResult{
		Timestamp:      s.now().UnixMilli(),
		TotalItemCount: len(cat.Items),
		Changes:        res.Changes,
		LostPages:      cat.LostPages,
	}
	if status.Changes == nil {
		status.Changes = []model.Change{}
	}
	if err := s.snapshots.SaveStatus(ctx, status); err != nil {
		return nil, err
	}

	s.log.Info("cycle complete",
		"items", len(cat.Items),
		"changes", len(res.Changes),
		"lost_pages", len(cat.LostPages),
		"cold_start", res.ColdStart,
	)

	if res.ColdStart {
		return status, nil
	}
	s.fanout.Dispatch(ctx, res.Changes, cat.Items)
	return status, nil
}
