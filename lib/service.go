package lib

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/fiffu/uptimesync/lib/taskqueue"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service holds the operations that change what a subscription should look like. Each one writes
// the new desired state and a pending status, then enqueues the task that reconciles the regions.
type Service struct {
	cfg   *config.Config
	log   *zap.Logger
	store *store.Store

	*subscriptions
	*detectors
}

func NewService(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, st *store.Store, queue *taskqueue.Queue) *Service {
	return New(cfg, log, st, queue)
}

func New(cfg *config.Config, log *zap.Logger, st *store.Store, queue taskqueue.Enqueuer) *Service {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return &Service{
		cfg, log, st,
		&subscriptions{cfg, log, st, queue, validate},
		&detectors{log, st, queue},
	}
}

// SubscriptionDetail is a subscription along with the detector owning it.
type SubscriptionDetail struct {
	*models.Subscription
	Detector *models.Detector
}

func (svc *Service) GetSubscription(ctx context.Context, id uint) (*SubscriptionDetail, error) {
	sub, err := svc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detector, err := svc.store.DetectorForSubscription(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNoDetector) {
		return nil, err
	}
	return &SubscriptionDetail{sub, detector}, nil
}

// ReportCheckResult records the health reported by the regions for a subscription.
func (svc *Service) ReportCheckResult(ctx context.Context, id uint, status models.UptimeStatus) error {
	if status != models.UptimeOK && status != models.UptimeFailed {
		return &ValidationError{Field: "uptime_status", Reason: "must be ok or failed"}
	}
	return svc.store.SetUptimeStatus(ctx, id, status, time.Now().UTC())
}

// enqueue tells the reconciler to pick up a subscription. A failure is only logged: the status is
// already written, so the repair scan will enqueue it again.
func enqueue(ctx context.Context, log *zap.Logger, queue taskqueue.Enqueuer, task string, id uint) {
	if err := queue.Enqueue(ctx, task, id); err != nil {
		log.Sugar().Warnw("Failed to enqueue task, leaving it to repair", "task", task, "uptime_subscription_id", id, "err", err)
	}
}
