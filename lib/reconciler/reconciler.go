package reconciler

import (
	"context"
	"time"

	"github.com/fiffu/uptimesync/channels"
	"github.com/fiffu/uptimesync/lib/metrics"
	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/fiffu/uptimesync/lib/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TaskCreate = "uptime.create_remote_subscription"
	TaskUpdate = "uptime.update_remote_subscription"
	TaskDelete = "uptime.delete_remote_subscription"
)

var DefaultRetry = taskqueue.RetryPolicy{Times: 5, Delay: 5 * time.Second}

// TaskFor returns the task that moves a subscription out of a pending status.
func TaskFor(status models.SubscriptionStatus) (string, bool) {
	switch status {
	case models.StatusCreating:
		return TaskCreate, true
	case models.StatusUpdating:
		return TaskUpdate, true
	case models.StatusDeleting, models.StatusDisabled:
		return TaskDelete, true
	}
	return "", false
}

type Store interface {
	Get(ctx context.Context, id uint) (*models.Subscription, error)
	TransitionStatus(ctx context.Context, id uint, from []models.SubscriptionStatus, to models.SubscriptionStatus, fields store.Fields) error
	Delete(ctx context.Context, id uint, from models.SubscriptionStatus) error
}

// Reconciler pushes the desired state of a subscription to its regions and advances its status.
// Each handler re-reads the record and only acts if the status is still the one it was queued for,
// so duplicate and out-of-order deliveries are harmless.
type Reconciler struct {
	log     *zap.Logger
	store   Store
	channel channels.Channel
	metrics *metrics.Metrics
}

func NewReconciler(lc fx.Lifecycle, log *zap.Logger, st *store.Store, ch channels.Channel, m *metrics.Metrics, q *taskqueue.Queue) *Reconciler {
	r := New(log, st, ch, m)
	r.Register(q, DefaultRetry)
	return r
}

func New(log *zap.Logger, st Store, ch channels.Channel, m *metrics.Metrics) *Reconciler {
	return &Reconciler{log, st, ch, m}
}

func (r *Reconciler) Register(q *taskqueue.Queue, retry taskqueue.RetryPolicy) {
	q.Register(TaskCreate, r.CreateRemote, retry)
	q.Register(TaskUpdate, r.UpdateRemote, retry)
	q.Register(TaskDelete, r.DeleteRemote, retry)
}

func (r *Reconciler) doesNotExist(op string, id uint) {
	r.metrics.DoesNotExist.WithLabelValues(op).Inc()
	r.log.Sugar().Infow("Uptime subscription does not exist", "op", op, "uptime_subscription_id", id)
}

// incorrectStatus records a task skipped because the record was not in the status it expected.
// Callers pass the statuses they actually know as key-value pairs.
func (r *Reconciler) incorrectStatus(op string, sub *models.Subscription, statuses ...any) {
	r.metrics.IncorrectState.WithLabelValues(op).Inc()
	kv := append([]any{
		"op", op,
		"uptime_subscription_id", sub.ID,
		"subscription_id", sub.SubscriptionID,
	}, statuses...)
	r.log.Sugar().Infow("Uptime subscription has incorrect status", kv...)
}
