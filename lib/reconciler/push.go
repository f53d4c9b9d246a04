package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/google/uuid"
)

// CreateRemote sends a CREATING subscription to its regions and marks it ACTIVE.
func (r *Reconciler) CreateRemote(ctx context.Context, id uint) error {
	return r.pushAndActivate(ctx, "create", id, models.StatusCreating)
}

// UpdateRemote sends an UPDATING subscription to its regions and marks it ACTIVE.
func (r *Reconciler) UpdateRemote(ctx context.Context, id uint) error {
	return r.pushAndActivate(ctx, "update", id, models.StatusUpdating)
}

func (r *Reconciler) pushAndActivate(ctx context.Context, op string, id uint, expected models.SubscriptionStatus) error {
	sub, err := r.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		r.doesNotExist(op, id)
		return nil
	} else if err != nil {
		return fmt.Errorf("load uptime subscription %d: %w", id, err)
	}

	if sub.Status != expected {
		r.incorrectStatus(op, sub, "subscription_status", sub.Status, "expected_status", expected)
		return nil
	}

	generated := false
	if sub.SubscriptionID == nil {
		sid := NewSubscriptionID()
		sub.SubscriptionID = &sid
		generated = true
	}

	for _, region := range sub.Regions {
		if err := r.channel.PushConfig(ctx, region.RegionSlug, CheckConfig(sub, region.Mode)); err != nil {
			return err
		}
		r.metrics.RegionPushes.WithLabelValues("config").Inc()
	}

	err = r.store.TransitionStatus(ctx, id,
		[]models.SubscriptionStatus{expected}, models.StatusActive,
		store.Fields{"subscription_id": *sub.SubscriptionID},
	)
	switch {
	case err == nil:
		r.log.Sugar().Infow("Uptime subscription is active",
			"op", op, "uptime_subscription_id", id, "subscription_id", *sub.SubscriptionID, "regions", len(sub.Regions))
		return nil

	case errors.Is(err, store.ErrNotFound):
		r.doesNotExist(op, id)

	case errors.Is(err, store.ErrStatusMismatch):
		// Only the status we lost on is known here, not the one it moved to.
		r.incorrectStatus(op, sub, "expected_status", expected)

	default:
		return fmt.Errorf("activate uptime subscription %d: %w", id, err)
	}

	// The status moved on while we were pushing. An id we just made up was never stored, so no
	// later delete can clean it up; take it back out of the regions ourselves.
	if generated {
		for _, region := range sub.Regions {
			if err := r.channel.PushRemoval(ctx, region.RegionSlug, *sub.SubscriptionID); err != nil {
				return err
			}
			r.metrics.RegionPushes.WithLabelValues("removal").Inc()
		}
	}
	return nil
}

// NewSubscriptionID returns a random id as 32 lowercase hex characters.
func NewSubscriptionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CheckConfig builds the snapshot for one region. A region is told about the peers that share its
// mode, so active regions round-robin among the active set only.
func CheckConfig(sub *models.Subscription, mode models.RegionMode) *models.CheckConfig {
	headers := []models.Header(sub.Headers)
	if headers == nil {
		headers = []models.Header{}
	}

	cfg := &models.CheckConfig{
		SubscriptionID:     *sub.SubscriptionID,
		URL:                sub.URL,
		IntervalSeconds:    sub.IntervalSeconds,
		TimeoutMs:          sub.TimeoutMs,
		RequestMethod:      sub.Method,
		RequestHeaders:     headers,
		TraceSampling:      sub.TraceSampling,
		ActiveRegions:      sub.RegionSlugs(mode),
		RegionScheduleMode: models.RoundRobin,
	}
	if sub.Body != nil {
		cfg.RequestBody = sub.Body
	}
	return cfg
}
