package channels

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Channel delivers check configuration to a region. Regions treat a config push as an upsert and a
// removal as idempotent, so callers may resend freely.
type Channel interface {
	PushConfig(ctx context.Context, regionSlug string, cfg *models.CheckConfig) error
	PushRemoval(ctx context.Context, regionSlug, subscriptionID string) error
}

type factory func(lc fx.Lifecycle, b base) (Channel, error)

// Registry maps the REGION_CHANNEL setting to a transport.
type Registry map[string]factory

func NewRegistry() Registry {
	return map[string]factory{
		"log":    newLogChannel,
		"http":   newHTTPChannel,
		"pubsub": newPubSubChannel,
	}
}

func NewChannel(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper, registry Registry) (Channel, error) {
	name := cfg.Regions.Channel
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported region channel: %s", name)
	}
	log.Sugar().Infow("Using region channel", "channel", name)
	return build(lc, base{log, cfg, transport})
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
