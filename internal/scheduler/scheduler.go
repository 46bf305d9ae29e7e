// Package scheduler turns schedule definitions into queued scans and
// drains the scan queue. The Scheduler polls for due schedules and
// enqueues scans; the Runner polls the queue and executes scans through
// their lifecycle.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/logging"
)

// DefaultSchedulePoll is how often the scheduler checks for due
// schedules.
const DefaultSchedulePoll = 5 * time.Second

// ScheduleStore is the schedule persistence surface. *db.DB satisfies
// it.
type ScheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]*db.ScheduleDefinition, error)
	CreateScan(ctx context.Context, scan *db.Scan) error
	AdvanceSchedule(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time) error
}

// Scheduler enqueues scans for due schedules on a fixed poll interval.
type Scheduler struct {
	store ScheduleStore
	poll  time.Duration
	log   *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler creates a scheduler. A zero poll interval uses the
// default.
func NewScheduler(store ScheduleStore, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = DefaultSchedulePoll
	}
	return &Scheduler{
		store: store,
		poll:  poll,
		log:   logging.Default().WithComponent("scheduler"),
	}
}

// Start launches the poll loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	s.log.Info("Scheduler started", "poll", s.poll.String())
}

// Stop halts the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
	s.log.Info("Scheduler stopped")
}

// tick enqueues one scan for every due schedule and advances each
// schedule's next run time. Missed intervals are not backfilled: a
// schedule that fell behind fires once and resyncs from now.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.log.Error("Failed to query due schedules", "error", err)
		return
	}

	for _, sched := range due {
		scan := &db.Scan{
			Target:   sched.Target,
			ScanType: sched.ScanType,
			Status:   db.ScanStatusQueued,
		}
		if err := s.store.CreateScan(ctx, scan); err != nil {
			s.log.Error("Failed to enqueue scheduled scan", "schedule", sched.Name, "error", err)
			continue
		}

		nextRun := now.Add(sched.Interval())
		if err := s.store.AdvanceSchedule(ctx, sched.ID, now, nextRun); err != nil {
			s.log.Error("Failed to advance schedule", "schedule", sched.Name, "error", err)
			continue
		}
		s.log.Info("Scheduled scan enqueued",
			"schedule", sched.Name, "scan_id", scan.ID.String(), "next_run", nextRun.Format(time.RFC3339))
	}
}
