package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib/metrics"
	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/fiffu/uptimesync/lib/taskqueue"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	SubscriptionStatusMaxAge = 10 * time.Minute
	BrokenMonitorAgeLimit    = 7 * 24 * time.Hour

	leaseTTL = 5 * time.Minute
)

type Store interface {
	FindStale(ctx context.Context, statuses []models.SubscriptionStatus, cutoff time.Time, batchSize int, fn func(models.Subscriptions) error) error
	FindBroken(ctx context.Context, cutoff time.Time, batchSize int, fn func(models.Subscriptions) error) error
	DetectorForSubscription(ctx context.Context, subscriptionID uint) (*models.Detector, error)
}

// DetectorDisabler turns a monitor off. Disabling also takes its subscription out of the regions.
type DetectorDisabler interface {
	DisableDetector(ctx context.Context, detectorID uint) error
}

// Locker hands out a lease so only one replica runs a given scan per tick.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Scanner runs the periodic sweeps that catch what the task queue dropped.
type Scanner struct {
	log       *zap.Logger
	store     Store
	queue     taskqueue.Enqueuer
	detectors DetectorDisabler
	metrics   *metrics.Metrics
	locker    Locker

	mu        sync.Mutex
	running   map[string]*sync.Mutex
	cron      *cron.Cron
	batchSize int
	now       func() time.Time
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Log       *zap.Logger
	Store     *store.Store
	Queue     *taskqueue.Queue
	Detectors DetectorDisabler
	Metrics   *metrics.Metrics
	Locker    *redislock.Client `optional:"true"`
}

func NewScanner(p Params) (*Scanner, error) {
	var locker Locker
	if p.Locker != nil {
		locker = p.Locker
	}
	s := New(p.Log, p.Store, p.Queue, p.Detectors, p.Metrics, locker, p.Config.Scans.BatchSize)

	lifeCtx, cancel := context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(p.Config.Scans.RepairSchedule, func() { s.run(lifeCtx, "repair", s.RepairScan) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid REPAIR_SCHEDULE %q: %w", p.Config.Scans.RepairSchedule, err)
	}
	if _, err := s.cron.AddFunc(p.Config.Scans.BrokenSchedule, func() { s.run(lifeCtx, "broken_monitor", s.BrokenMonitorScan) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid BROKEN_SCHEDULE %q: %w", p.Config.Scans.BrokenSchedule, err)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.cron.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Log.Sugar().Info("Trying to stop scanner")
			cancel()
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
			}
			p.Log.Sugar().Info("Scanner stopped")
			return nil
		},
	})
	return s, nil
}

func New(log *zap.Logger, st Store, q taskqueue.Enqueuer, detectors DetectorDisabler, m *metrics.Metrics, locker Locker, batchSize int) *Scanner {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scanner{
		log:       log,
		store:     st,
		queue:     q,
		detectors: detectors,
		metrics:   m,
		locker:    locker,
		running:   make(map[string]*sync.Mutex),
		cron:      cron.New(),
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// scanLock keeps runs of the same scan from overlapping; different scans run independently.
func (s *Scanner) scanLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.running[name]
	if !ok {
		l = &sync.Mutex{}
		s.running[name] = l
	}
	return l
}

// run executes one scheduled scan under the lease, if there is a locker.
func (s *Scanner) run(ctx context.Context, name string, scan func(context.Context) (int, error)) {
	running := s.scanLock(name)
	running.Lock()
	defer running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, leaseTTL)
	defer cancel()

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, "lock:uptime:scan:"+name, leaseTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.log.Sugar().Debugw("Scan is running elsewhere", "scan", name)
			return
		} else if err != nil {
			s.log.Sugar().Warnw("Error obtaining scan lease; scanning anyway", "scan", name, "err", err)
		} else {
			defer func() {
				if err := lock.Release(context.Background()); err != nil {
					s.log.Sugar().Warnw("Failed to release scan lease", "scan", name, "err", err)
				}
			}()
		}
	}

	startTime := s.now()
	count, err := scan(ctx)
	elapsed := s.now().Sub(startTime)
	if err != nil {
		s.log.Sugar().Errorw("Scan failed", "scan", name, "count", count, "err", err)
		return
	}
	s.log.Sugar().Infow("Scan completed", "scan", name, "count", count, "elapsed_msecs", int(elapsed.Milliseconds()))
}
