package channels

import (
	"context"

	"github.com/fiffu/uptimesync/lib/models"
	"go.uber.org/fx"
)

// logChannel only logs what it would have sent. Used in development.
type logChannel struct {
	base
}

func newLogChannel(lc fx.Lifecycle, b base) (Channel, error) {
	return &logChannel{b}, nil
}

func (c *logChannel) PushConfig(ctx context.Context, regionSlug string, cfg *models.CheckConfig) error {
	c.log.Sugar().Infow("Pushing check config",
		"region", regionSlug, "subscription_id", cfg.SubscriptionID, "url", cfg.URL, "active_regions", cfg.ActiveRegions)
	return nil
}

func (c *logChannel) PushRemoval(ctx context.Context, regionSlug, subscriptionID string) error {
	c.log.Sugar().Infow("Pushing check removal", "region", regionSlug, "subscription_id", subscriptionID)
	return nil
}
