package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/errors"
	"github.com/lanscout/lanscout/internal/logging"
	"github.com/lanscout/lanscout/internal/metrics"
)

const (
	// DefaultQueuePoll is how often the runner checks for queued scans.
	DefaultQueuePoll = time.Second

	// DefaultMaxConcurrent admits one scan at a time; LAN sweeps compete
	// for the same network and sockets.
	DefaultMaxConcurrent = 1
)

// QueueStore is the scan lifecycle persistence surface. *db.DB
// satisfies it.
type QueueStore interface {
	NextQueuedScan(ctx context.Context) (*db.Scan, error)
	GetScan(ctx context.Context, id uuid.UUID) (*db.Scan, error)
	MarkScanRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	CompleteScan(ctx context.Context, id uuid.UUID, finishedAt time.Time) error
	FailScan(ctx context.Context, id uuid.UUID, finishedAt time.Time, message string) error
	CancelScan(ctx context.Context, id uuid.UUID, reason string) error
}

// ScanRunner executes one scan body. *scanning.Job satisfies it.
type ScanRunner interface {
	Run(ctx context.Context, scan *db.Scan) error
}

// Runner drains the scan queue with bounded admission, driving each
// scan through running to a terminal state.
type Runner struct {
	store QueueStore
	job   ScanRunner
	poll  time.Duration
	slots chan struct{}
	log   *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	scans   sync.WaitGroup
	running bool
}

// NewRunner creates a queue runner. Zero poll and maxConcurrent use
// defaults.
func NewRunner(store QueueStore, job ScanRunner, poll time.Duration, maxConcurrent int) *Runner {
	if poll <= 0 {
		poll = DefaultQueuePoll
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Runner{
		store: store,
		job:   job,
		poll:  poll,
		slots: make(chan struct{}, maxConcurrent),
		log:   logging.Default().WithComponent("runner"),
	}
}

// Start launches the queue poll loop.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
	r.log.Info("Runner started", "poll", r.poll.String(), "max_concurrent", cap(r.slots))
}

// Stop halts admission and waits for in-flight scans to finish. Their
// context is canceled, so they finalize as interrupted.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	<-r.done
	r.scans.Wait()
	r.running = false
	r.log.Info("Runner stopped")
}

// tick admits the oldest queued scan when a slot is free.
func (r *Runner) tick(ctx context.Context) {
	select {
	case r.slots <- struct{}{}:
	default:
		return // all slots busy
	}

	scan, err := r.store.NextQueuedScan(ctx)
	if err != nil || scan == nil {
		<-r.slots
		if err != nil {
			r.log.Error("Failed to poll scan queue", "error", err)
		}
		return
	}

	startedAt := time.Now().UTC()
	if err := r.store.MarkScanRunning(ctx, scan.ID, startedAt); err != nil {
		<-r.slots
		// A terminal scan here means it was cancelled between the poll
		// and the claim; skip it.
		if !errors.IsTerminal(err) {
			r.log.Error("Failed to claim scan", "scan_id", scan.ID.String(), "error", err)
		}
		return
	}
	scan.Status = db.ScanStatusRunning
	scan.StartedAt = &startedAt

	r.scans.Add(1)
	go func() {
		defer r.scans.Done()
		defer func() { <-r.slots }()
		r.execute(ctx, scan)
	}()
}

// execute runs the scan body and finalizes its status. The scan row is
// watched while the job runs so an external cancel interrupts it.
// Finalization uses a fresh context so a canceled scan can still be
// recorded.
func (r *Runner) execute(ctx context.Context, scan *db.Scan) {
	log := r.log.WithScanID(scan.ID.String())
	log.InfoScan("Scan started", scan.Target, "type", scan.ScanType)
	m := metrics.GetGlobalMetrics()
	m.SetActiveScans(len(r.slots))

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		r.watchForCancel(jobCtx, scan.ID, cancelJob)
	}()

	runErr := r.job.Run(jobCtx, scan)
	cancelJob()
	<-watchDone
	finishedAt := time.Now().UTC()
	m.RecordScanDuration(scan.ScanType, finishedAt.Sub(*scan.StartedAt))

	finalizeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case runErr == nil:
		if err := r.store.CompleteScan(finalizeCtx, scan.ID, finishedAt); err != nil {
			log.ErrorScan("Failed to finalize scan", scan.Target, err)
		}
		m.IncrementScansTotal(scan.ScanType, db.ScanStatusDone)
		log.InfoScan("Scan finished", scan.Target)

	case errors.IsCode(runErr, errors.CodeCanceled):
		// An externally cancelled scan is already interrupted in the
		// database; the terminal rejection here is expected.
		if err := r.store.CancelScan(finalizeCtx, scan.ID, "scan interrupted"); err != nil && !errors.IsTerminal(err) {
			log.ErrorScan("Failed to finalize interrupted scan", scan.Target, err)
		}
		m.IncrementScansTotal(scan.ScanType, db.ScanStatusInterrupted)
		log.InfoScan("Scan interrupted", scan.Target)

	default:
		if err := r.store.FailScan(finalizeCtx, scan.ID, finishedAt, runErr.Error()); err != nil {
			log.ErrorScan("Failed to finalize failed scan", scan.Target, err)
		}
		m.IncrementScansTotal(scan.ScanType, db.ScanStatusError)
		log.ErrorScan("Scan failed", scan.Target, runErr)
	}

	m.SetActiveScans(len(r.slots) - 1)
}

// watchForCancel polls the scan row while the job runs and cancels the
// job context when the scan reaches a terminal state externally (an
// operator cancel lands as interrupted in the database).
func (r *Runner) watchForCancel(ctx context.Context, id uuid.UUID, cancel context.CancelFunc) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan, err := r.store.GetScan(ctx, id)
			if err != nil || scan == nil {
				continue
			}
			if db.IsTerminalScanStatus(scan.Status) {
				cancel()
				return
			}
		}
	}
}
