package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/store"
)

// DeleteRemote removes a DELETING subscription, or detaches a DISABLED one from its regions, then
// tells every region it was assigned to that the check is gone.
func (r *Reconciler) DeleteRemote(ctx context.Context, id uint) error {
	const op = "delete"

	sub, err := r.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		r.doesNotExist(op, id)
		return nil
	} else if err != nil {
		return fmt.Errorf("load uptime subscription %d: %w", id, err)
	}

	if sub.Status != models.StatusDeleting && sub.Status != models.StatusDisabled {
		r.incorrectStatus(op, sub, "subscription_status", sub.Status)
		return nil
	}

	// Captured before the record changes: the regions and id go away with it.
	regionSlugs := sub.RegionSlugs()
	subscriptionID := sub.SubscriptionID

	if sub.Status == models.StatusDeleting {
		err = r.store.Delete(ctx, id, models.StatusDeleting)
	} else {
		err = r.store.TransitionStatus(ctx, id,
			[]models.SubscriptionStatus{models.StatusDisabled}, models.StatusDisabled,
			store.Fields{"subscription_id": nil},
		)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.doesNotExist(op, id)
		return nil
	case errors.Is(err, store.ErrStatusMismatch):
		r.incorrectStatus(op, sub, "expected_status", sub.Status)
		return nil
	case err != nil:
		return fmt.Errorf("remove uptime subscription %d: %w", id, err)
	}

	if subscriptionID == nil {
		return nil
	}
	for _, slug := range regionSlugs {
		if err := r.channel.PushRemoval(ctx, slug, *subscriptionID); err != nil {
			return err
		}
		r.metrics.RegionPushes.WithLabelValues("removal").Inc()
	}
	r.log.Sugar().Infow("Uptime subscription removed from regions",
		"uptime_subscription_id", id, "subscription_id", *subscriptionID, "status", sub.Status, "regions", len(regionSlugs))
	return nil
}
