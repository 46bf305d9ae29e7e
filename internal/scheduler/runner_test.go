package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/errors"
)

type fakeQueueStore struct {
	mu        sync.Mutex
	queued    []*db.Scan
	claimErr  error
	statuses  map[uuid.UUID]string
	completed []uuid.UUID
	failed    map[uuid.UUID]string
	canceled  map[uuid.UUID]string
}

func newFakeQueueStore(scans ...*db.Scan) *fakeQueueStore {
	return &fakeQueueStore{
		queued:   scans,
		statuses: make(map[uuid.UUID]string),
		failed:   make(map[uuid.UUID]string),
		canceled: make(map[uuid.UUID]string),
	}
}

func (f *fakeQueueStore) setStatus(id uuid.UUID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
}

func (f *fakeQueueStore) GetScan(_ context.Context, id uuid.UUID) (*db.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[id]
	if status == "" {
		status = db.ScanStatusRunning
	}
	return &db.Scan{ID: id, Status: status}, nil
}

func (f *fakeQueueStore) NextQueuedScan(_ context.Context) (*db.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) == 0 {
		return nil, nil
	}
	scan := f.queued[0]
	f.queued = f.queued[1:]
	return scan, nil
}

func (f *fakeQueueStore) MarkScanRunning(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return f.claimErr
}

func (f *fakeQueueStore) CompleteScan(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeQueueStore) FailScan(_ context.Context, id uuid.UUID, _ time.Time, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = message
	return nil
}

func (f *fakeQueueStore) CancelScan(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled[id] = reason
	if f.statuses[id] == db.ScanStatusInterrupted {
		return errors.ErrScanTerminal(id.String(), f.statuses[id])
	}
	f.statuses[id] = db.ScanStatusInterrupted
	return nil
}

type fakeJob struct {
	err     error
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeJob) Run(ctx context.Context, _ *db.Scan) error {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return errors.WrapScanError(errors.CodeCanceled, "scan canceled", ctx.Err())
		}
	}
	return f.err
}

func queuedScan() *db.Scan {
	return &db.Scan{
		ID:       uuid.New(),
		Target:   "192.168.1.0/24",
		ScanType: "arp",
		Status:   db.ScanStatusQueued,
	}
}

func TestRunnerCompletesScan(t *testing.T) {
	scan := queuedScan()
	store := newFakeQueueStore(scan)
	r := NewRunner(store, &fakeJob{}, time.Second, 1)

	r.tick(context.Background())
	r.scans.Wait()

	require.Len(t, store.completed, 1)
	assert.Equal(t, scan.ID, store.completed[0])
}

func TestRunnerFailsScan(t *testing.T) {
	scan := queuedScan()
	store := newFakeQueueStore(scan)
	job := &fakeJob{err: errors.NewScanError(errors.CodeScanFailed, "discovery blew up")}
	r := NewRunner(store, job, time.Second, 1)

	r.tick(context.Background())
	r.scans.Wait()

	require.Contains(t, store.failed, scan.ID)
	assert.Contains(t, store.failed[scan.ID], "discovery blew up")
	assert.Empty(t, store.completed)
}

func TestRunnerInterruptsCanceledScan(t *testing.T) {
	scan := queuedScan()
	store := newFakeQueueStore(scan)
	job := &fakeJob{block: make(chan struct{}), started: make(chan struct{})}
	r := NewRunner(store, job, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	r.tick(ctx)
	<-job.started
	cancel()
	r.scans.Wait()

	require.Contains(t, store.canceled, scan.ID,
		"a canceled scan finalizes as interrupted")
	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed)
}

func TestRunnerObservesExternalCancel(t *testing.T) {
	scan := queuedScan()
	store := newFakeQueueStore(scan)
	job := &fakeJob{block: make(chan struct{}), started: make(chan struct{})}
	r := NewRunner(store, job, 10*time.Millisecond, 1)

	r.tick(context.Background())
	<-job.started

	// Cancel the scan out of band, as the CLI would; the runner must
	// notice and stop the in-flight job.
	store.setStatus(scan.ID, db.ScanStatusInterrupted)
	r.scans.Wait()

	assert.Empty(t, store.completed, "an externally cancelled scan must not complete")
	assert.Empty(t, store.failed)
}

func TestRunnerOneScanAtATime(t *testing.T) {
	first := queuedScan()
	second := queuedScan()
	store := newFakeQueueStore(first, second)
	job := &fakeJob{block: make(chan struct{}), started: make(chan struct{})}
	r := NewRunner(store, job, time.Second, 1)

	ctx := context.Background()
	r.tick(ctx)
	<-job.started
	r.tick(ctx) // slot busy; must not claim the second scan

	store.mu.Lock()
	remaining := len(store.queued)
	store.mu.Unlock()
	assert.Equal(t, 1, remaining, "the second scan stays queued while one runs")

	close(job.block)
	r.scans.Wait()
}

func TestRunnerSkipsTerminalClaim(t *testing.T) {
	scan := queuedScan()
	store := newFakeQueueStore(scan)
	store.claimErr = errors.ErrScanTerminal(scan.ID.String(), db.ScanStatusInterrupted)
	r := NewRunner(store, &fakeJob{}, time.Second, 1)

	r.tick(context.Background())
	r.scans.Wait()

	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed)
}

func TestRunnerEmptyQueue(t *testing.T) {
	store := newFakeQueueStore()
	r := NewRunner(store, &fakeJob{}, time.Second, 1)

	r.tick(context.Background())
	assert.Empty(t, store.completed)
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner(newFakeQueueStore(), &fakeJob{}, 0, 0)
	assert.Equal(t, DefaultQueuePoll, r.poll)
	assert.Equal(t, DefaultMaxConcurrent, cap(r.slots))
}
