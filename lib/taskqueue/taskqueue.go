package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrStopped     = errors.New("task queue is stopped")
	ErrUnknownTask = errors.New("unknown task")
)

// RetryPolicy says how many more times a failed task runs, and how long to wait before each rerun.
type RetryPolicy struct {
	Times int
	Delay time.Duration
}

// HandlerFunc runs one task for one subscription. Returning an error schedules a retry.
type HandlerFunc func(ctx context.Context, subscriptionID uint) error

// Enqueuer is what producers of tasks depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, subscriptionID uint) error
}

type Task struct {
	Name           string
	SubscriptionID uint
	Attempt        int
}

type registration struct {
	fn    HandlerFunc
	retry RetryPolicy
}

// Queue is an in-process worker pool. Tasks are not persisted: a task lost to a crash is picked up
// again by the repair scan, which works off the subscription status.
type Queue struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]registration

	tasks   chan Task
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewQueue(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *Queue {
	q := New(log, m, cfg.Tasks.Workers, cfg.Tasks.BufferSize)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			q.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop task queue")
			q.Stop()
			return nil
		},
	})
	return q
}

func New(log *zap.Logger, m *metrics.Metrics, workers, bufferSize int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		log:      log,
		metrics:  m,
		handlers: make(map[string]registration),
		tasks:    make(chan Task, bufferSize),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (q *Queue) Register(name string, fn HandlerFunc, retry RetryPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = registration{fn, retry}
}

func (q *Queue) Enqueue(ctx context.Context, name string, subscriptionID uint) error {
	if _, ok := q.handler(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return q.submit(ctx, Task{Name: name, SubscriptionID: subscriptionID})
}

func (q *Queue) submit(ctx context.Context, task Task) error {
	if q.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case q.tasks <- task:
		return nil
	case <-q.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) handler(name string) (registration, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	reg, ok := q.handlers[name]
	return reg, ok
}

func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-q.ctx.Done():
					return
				case task := <-q.tasks:
					q.run(task)
				}
			}
		}()
	}
}

// Stop waits for in-flight tasks. Queued and delayed tasks are dropped.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
	q.log.Sugar().Info("Task queue stopped")
}

func (q *Queue) run(task Task) {
	reg, ok := q.handler(task.Name)
	if !ok {
		q.log.Sugar().Errorw("Dropping task with no handler", "task", task.Name)
		return
	}

	err := invoke(q.ctx, reg.fn, task.SubscriptionID)
	if err == nil {
		return
	}

	if task.Attempt >= reg.retry.Times {
		q.metrics.TaskFailures.WithLabelValues(task.Name).Inc()
		q.log.Sugar().Errorw("Task failed, retries exhausted",
			"task", task.Name, "uptime_subscription_id", task.SubscriptionID, "attempts", task.Attempt+1, "err", err)
		return
	}

	q.metrics.TaskRetries.WithLabelValues(task.Name).Inc()
	q.log.Sugar().Warnw("Task failed, will retry",
		"task", task.Name, "uptime_subscription_id", task.SubscriptionID, "attempt", task.Attempt+1, "delay", reg.retry.Delay, "err", err)

	next := Task{Name: task.Name, SubscriptionID: task.SubscriptionID, Attempt: task.Attempt + 1}
	time.AfterFunc(reg.retry.Delay, func() {
		if err := q.submit(q.ctx, next); err != nil && !errors.Is(err, ErrStopped) {
			q.log.Sugar().Errorw("Failed to resubmit task", "task", next.Name, "err", err)
		}
	})
}

func invoke(ctx context.Context, fn HandlerFunc, subscriptionID uint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, subscriptionID)
}
