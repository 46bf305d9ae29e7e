package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/errors"
)

type fakeScheduleStore struct {
	due      []*db.ScheduleDefinition
	dueErr   error
	scans    []*db.Scan
	scanErr  error
	advanced map[uuid.UUID]time.Time
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{advanced: make(map[uuid.UUID]time.Time)}
}

func (f *fakeScheduleStore) DueSchedules(_ context.Context, _ time.Time) ([]*db.ScheduleDefinition, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	return f.due, nil
}

func (f *fakeScheduleStore) CreateScan(_ context.Context, scan *db.Scan) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	f.scans = append(f.scans, scan)
	return nil
}

func (f *fakeScheduleStore) AdvanceSchedule(_ context.Context, id uuid.UUID, _ time.Time, nextRun time.Time) error {
	f.advanced[id] = nextRun
	return nil
}

func TestSchedulerTickEnqueuesDueSchedules(t *testing.T) {
	store := newFakeScheduleStore()
	sched := &db.ScheduleDefinition{
		ID:              uuid.New(),
		Name:            "lan",
		ScanType:        "arp",
		Target:          "192.168.1.0/24",
		IntervalSeconds: 300,
		Enabled:         true,
	}
	store.due = []*db.ScheduleDefinition{sched}

	s := NewScheduler(store, time.Second)
	before := time.Now().UTC()
	s.tick(context.Background())

	require.Len(t, store.scans, 1)
	scan := store.scans[0]
	assert.Equal(t, sched.Target, scan.Target)
	assert.Equal(t, sched.ScanType, scan.ScanType)
	assert.Equal(t, db.ScanStatusQueued, scan.Status)

	nextRun, ok := store.advanced[sched.ID]
	require.True(t, ok, "a fired schedule must be advanced")
	assert.True(t, nextRun.After(before.Add(sched.Interval()-time.Second)),
		"next run should resync from now, not backfill missed intervals")
}

func TestSchedulerTickNothingDue(t *testing.T) {
	store := newFakeScheduleStore()
	s := NewScheduler(store, time.Second)

	s.tick(context.Background())
	assert.Empty(t, store.scans)
}

func TestSchedulerTickEnqueueFailureSkipsAdvance(t *testing.T) {
	store := newFakeScheduleStore()
	store.due = []*db.ScheduleDefinition{{
		ID: uuid.New(), Name: "lan", ScanType: "arp",
		Target: "10.0.0.0/24", IntervalSeconds: 60, Enabled: true,
	}}
	store.scanErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, "boom")

	s := NewScheduler(store, time.Second)
	s.tick(context.Background())

	assert.Empty(t, store.advanced,
		"a schedule whose scan failed to enqueue stays due")
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newFakeScheduleStore(), 10*time.Millisecond)
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	// Stop is idempotent.
	s.Stop()
}

func TestNewSchedulerDefaultPoll(t *testing.T) {
	s := NewScheduler(newFakeScheduleStore(), 0)
	assert.Equal(t, DefaultSchedulePoll, s.poll)
}
