package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/reconciler"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/fiffu/uptimesync/lib/taskqueue"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type CheckParams struct {
	URL             string          `json:"url" validate:"required,url,max=255"`
	IntervalSeconds int             `json:"interval_seconds" validate:"required,oneof=60 300 600 1200 1800 3600"`
	TimeoutMs       int             `json:"timeout_ms" validate:"required,min=1000,max=60000"`
	Method          string          `json:"method" validate:"omitempty,oneof=GET POST HEAD PUT DELETE PATCH OPTIONS"`
	Headers         []models.Header `json:"headers"`
	Body            *string         `json:"body"`
	TraceSampling   bool            `json:"trace_sampling"`
}

type CreateParams struct {
	CheckParams
	Name string             `json:"name" validate:"max=128"`
	Mode models.MonitorMode `json:"mode" validate:"omitempty,oneof=manual auto_detected_onboarding auto_detected_active"`
}

type subscriptions struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	queue    taskqueue.Enqueuer
	validate *validator.Validate
}

func (p *CheckParams) apply(sub *models.Subscription) {
	sub.URL = p.URL
	sub.IntervalSeconds = p.IntervalSeconds
	sub.TimeoutMs = p.TimeoutMs
	sub.Method = p.Method
	if sub.Method == "" {
		sub.Method = "GET"
	}
	sub.Headers = p.Headers
	if sub.Headers == nil {
		sub.Headers = []models.Header{}
	}
	sub.Body = p.Body
	sub.TraceSampling = p.TraceSampling
}

func (svc *subscriptions) CreateSubscription(ctx context.Context, params CreateParams) (*models.Subscription, error) {
	if err := svc.validate.Struct(params); err != nil {
		return nil, fromValidator(err)
	}

	sub := &models.Subscription{
		Status:       models.StatusCreating,
		UptimeStatus: models.UptimeOK,
	}
	params.apply(sub)
	for _, region := range svc.cfg.GetRegions() {
		sub.Regions = append(sub.Regions, models.SubscriptionRegion{
			RegionSlug: region.Slug,
			Mode:       models.RegionMode(region.Mode),
		})
	}

	mode := params.Mode
	if mode == "" {
		mode = models.MonitorManual
	}
	detector := &models.Detector{Name: params.Name, Mode: mode, Enabled: true}

	if err := svc.store.Create(ctx, sub, detector); err != nil {
		return nil, err
	}
	svc.log.Sugar().Infow("Created uptime subscription", "uptime_subscription_id", sub.ID, "detector_id", detector.ID, "url", sub.URL)

	enqueue(ctx, svc.log, svc.queue, reconciler.TaskCreate, sub.ID)
	return sub, nil
}

func (svc *subscriptions) UpdateSubscription(ctx context.Context, id uint, params CheckParams) error {
	if err := svc.validate.Struct(params); err != nil {
		return fromValidator(err)
	}

	sub := &models.Subscription{}
	params.apply(sub)

	// A subscription still being created can be updated in place: the update task generates the id
	// when there is none, and the create task backs off once it sees UPDATING.
	from := []models.SubscriptionStatus{models.StatusCreating, models.StatusActive, models.StatusUpdating}
	if err := svc.store.UpdateConfig(ctx, id, from, models.StatusUpdating, sub); err != nil {
		return err
	}
	svc.log.Sugar().Infow("Updated uptime subscription", "uptime_subscription_id", id)

	enqueue(ctx, svc.log, svc.queue, reconciler.TaskUpdate, id)
	return nil
}

func (svc *subscriptions) DeleteSubscription(ctx context.Context, id uint) error {
	from := []models.SubscriptionStatus{models.StatusCreating, models.StatusActive, models.StatusUpdating, models.StatusDisabled}
	err := svc.store.TransitionStatus(ctx, id, from, models.StatusDeleting, nil)
	if errors.Is(err, store.ErrStatusMismatch) {
		// Already deleting; enqueueing again is harmless.
	} else if err != nil {
		return err
	}

	detector, err := svc.store.DetectorForSubscription(ctx, id)
	if err == nil {
		if err := svc.store.DeleteDetector(ctx, detector.ID); err != nil {
			return fmt.Errorf("delete detector %d: %w", detector.ID, err)
		}
	} else if !errors.Is(err, store.ErrNoDetector) {
		return err
	}
	svc.log.Sugar().Infow("Deleting uptime subscription", "uptime_subscription_id", id)

	enqueue(ctx, svc.log, svc.queue, reconciler.TaskDelete, id)
	return nil
}
