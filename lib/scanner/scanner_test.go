package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/fiffu/uptimesync/lib/metrics"
	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/reconciler"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/fiffu/uptimesync/lib/store/storetest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type enqueued struct {
	Task string
	ID   uint
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []enqueued
}

func (q *fakeQueue) Enqueue(ctx context.Context, name string, id uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, enqueued{name, id})
	return nil
}

// fakeDisabler flips the detector off and fails for the ids in failFor.
type fakeDisabler struct {
	db       *gorm.DB
	disabled []uint
	failFor  map[uint]bool
}

func (d *fakeDisabler) DisableDetector(ctx context.Context, detectorID uint) error {
	if d.failFor[detectorID] {
		return errors.New("detector is locked")
	}
	d.disabled = append(d.disabled, detectorID)
	return d.db.Model(&models.Detector{}).Where("id = ?", detectorID).Update("enabled", false).Error
}

type fakeLocker struct {
	err   error
	calls int
}

func (l *fakeLocker) Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error) {
	l.calls++
	return nil, l.err
}

func setup(t *testing.T) (*Scanner, *gorm.DB, *fakeQueue, *fakeDisabler, *metrics.Metrics) {
	db := storetest.NewDB(t)
	q := &fakeQueue{}
	d := &fakeDisabler{db: db, failFor: map[uint]bool{}}
	m := metrics.NewForTest()
	return New(zap.NewNop(), store.New(db), q, d, m, nil, 2), db, q, d, m
}

func TestRepairScan(t *testing.T) {
	ctx := context.Background()
	s, db, q, _, m := setup(t)

	creating := storetest.Subscription(t, db, models.StatusCreating)
	storetest.Age(t, db, creating, 11*time.Minute)
	updating := storetest.Subscription(t, db, models.StatusUpdating)
	storetest.Age(t, db, updating, 11*time.Minute)
	deleting := storetest.Subscription(t, db, models.StatusDeleting)
	storetest.Age(t, db, deleting, time.Hour)

	fresh := storetest.Subscription(t, db, models.StatusUpdating)
	storetest.Age(t, db, fresh, 5*time.Minute)
	active := storetest.Subscription(t, db, models.StatusActive)
	storetest.Age(t, db, active, time.Hour)
	disabled := storetest.Subscription(t, db, models.StatusDisabled)
	storetest.Age(t, db, disabled, time.Hour)

	count, err := s.RepairScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.ElementsMatch(t, []enqueued{
		{reconciler.TaskCreate, creating.ID},
		{reconciler.TaskUpdate, updating.ID},
		{reconciler.TaskDelete, deleting.ID},
	}, q.tasks)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Repaired))

	count, err = s.RepairScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Repaired))
}

func TestBrokenMonitorScan(t *testing.T) {
	ctx := context.Background()
	s, db, _, d, m := setup(t)

	auto := storetest.Subscription(t, db, models.StatusActive)
	storetest.Failing(t, db, auto, 8*24*time.Hour)
	autoDetector := storetest.Detector(t, db, auto, models.MonitorAutoDetectedActive)

	manual := storetest.Subscription(t, db, models.StatusActive)
	storetest.Failing(t, db, manual, 8*24*time.Hour)
	manualDetector := storetest.Detector(t, db, manual, models.MonitorManual)

	recent := storetest.Subscription(t, db, models.StatusActive)
	storetest.Failing(t, db, recent, 2*24*time.Hour)
	recentDetector := storetest.Detector(t, db, recent, models.MonitorAutoDetectedActive)

	count, err := s.BrokenMonitorScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []uint{autoDetector.ID}, d.disabled)
	assert.NotContains(t, d.disabled, manualDetector.ID)
	assert.NotContains(t, d.disabled, recentDetector.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DisabledBroken))

	// Already disabled monitors are not disabled again.
	count, err = s.BrokenMonitorScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestBrokenMonitorScanIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	s, db, _, d, m := setup(t)

	orphan := storetest.Subscription(t, db, models.StatusActive)
	storetest.Failing(t, db, orphan, 8*24*time.Hour)

	stuck := storetest.Subscription(t, db, models.StatusActive)
	storetest.Failing(t, db, stuck, 8*24*time.Hour)
	stuckDetector := storetest.Detector(t, db, stuck, models.MonitorAutoDetectedActive)
	d.failFor[stuckDetector.ID] = true

	var want []uint
	for i := 0; i < 3; i++ {
		sub := storetest.Subscription(t, db, models.StatusActive)
		storetest.Failing(t, db, sub, 30*24*time.Hour)
		want = append(want, storetest.Detector(t, db, sub, models.MonitorAutoDetectedActive).ID)
	}

	count, err := s.BrokenMonitorScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.ElementsMatch(t, want, d.disabled)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DisabledBroken))
}

func TestRunRespectsLease(t *testing.T) {
	s, _, _, _, _ := setup(t)

	calls := 0
	scan := func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	}

	held := &fakeLocker{err: redislock.ErrNotObtained}
	s.locker = held
	s.run(context.Background(), "repair", scan)
	assert.Equal(t, 1, held.calls)
	assert.Equal(t, 0, calls)

	broken := &fakeLocker{err: errors.New("connection refused")}
	s.locker = broken
	s.run(context.Background(), "repair", scan)
	assert.Equal(t, 1, calls)

	s.locker = nil
	s.run(context.Background(), "repair", scan)
	assert.Equal(t, 2, calls)
}

func TestRunDoesNotWaitOnOtherScans(t *testing.T) {
	s, _, _, _, _ := setup(t)

	// A long broken monitor sweep is in flight.
	broken := s.scanLock("broken_monitor")
	broken.Lock()
	defer broken.Unlock()

	done := make(chan struct{})
	go func() {
		s.run(context.Background(), "repair", func(ctx context.Context) (int, error) { return 0, nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("repair scan blocked behind the broken monitor scan")
	}
	assert.Same(t, broken, s.scanLock("broken_monitor"))
}
