package lib

import (
	"context"
	"fmt"

	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/reconciler"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/fiffu/uptimesync/lib/taskqueue"
	"go.uber.org/zap"
)

type detectors struct {
	log   *zap.Logger
	store *store.Store
	queue taskqueue.Enqueuer
}

// DisableDetector turns the monitor off and takes its subscription out of the regions, keeping the
// record so it can be enabled again.
func (svc *detectors) DisableDetector(ctx context.Context, detectorID uint) error {
	from := []models.SubscriptionStatus{models.StatusCreating, models.StatusActive, models.StatusUpdating, models.StatusDisabled}
	detector, err := svc.store.SetDetectorEnabled(ctx, detectorID, false, from, models.StatusDisabled)
	if err != nil {
		return fmt.Errorf("disable detector %d: %w", detectorID, err)
	}
	svc.log.Sugar().Infow("Disabled detector", "detector_id", detectorID, "uptime_subscription_id", detector.UptimeSubscriptionID)

	enqueue(ctx, svc.log, svc.queue, reconciler.TaskDelete, detector.UptimeSubscriptionID)
	return nil
}

// EnableDetector puts a disabled monitor back into the regions. Once the disable has been
// reconciled the subscription id is cleared, so the create issues a fresh one.
func (svc *detectors) EnableDetector(ctx context.Context, detectorID uint) error {
	from := []models.SubscriptionStatus{models.StatusDisabled}
	detector, err := svc.store.SetDetectorEnabled(ctx, detectorID, true, from, models.StatusCreating)
	if err != nil {
		return fmt.Errorf("enable detector %d: %w", detectorID, err)
	}
	svc.log.Sugar().Infow("Enabled detector", "detector_id", detectorID, "uptime_subscription_id", detector.UptimeSubscriptionID)

	enqueue(ctx, svc.log, svc.queue, reconciler.TaskCreate, detector.UptimeSubscriptionID)
	return nil
}
