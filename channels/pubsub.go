package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/fiffu/uptimesync/lib/models"
	"go.uber.org/fx"
	"google.golang.org/api/option"
)

const regionAttribute = "region"

// pubsubChannel publishes configs and removals to two topics; each region's checker consumes the
// messages carrying its slug in the region attribute.
type pubsubChannel struct {
	base
	configs  *pubsub.Topic
	removals *pubsub.Topic
}

func newPubSubChannel(lc fx.Lifecycle, b base) (Channel, error) {
	if b.cfg.PubSub.ProjectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID envvar must be populated for the pubsub region channel")
	}

	opts := make([]option.ClientOption, 0)
	if path := b.cfg.PubSub.CredsJSONPath; path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, b.cfg.PubSub.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	c, err := newPubSub(ctx, b, client, b.cfg.PubSub.ConfigTopic, b.cfg.PubSub.RemovalTopic)
	if err != nil {
		client.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.configs.Stop()
			c.removals.Stop()
			return client.Close()
		},
	})
	return c, nil
}

func newPubSub(ctx context.Context, b base, client *pubsub.Client, configTopic, removalTopic string) (*pubsubChannel, error) {
	configs, err := ensureTopic(ctx, client, configTopic)
	if err != nil {
		return nil, err
	}
	removals, err := ensureTopic(ctx, client, removalTopic)
	if err != nil {
		return nil, err
	}
	return &pubsubChannel{b, configs, removals}, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, name string) (*pubsub.Topic, error) {
	if name == "" {
		return nil, errors.New("topic is required")
	}

	t := client.Topic(name)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", name, err)
	}
	if !ok {
		if t, err = client.CreateTopic(ctx, name); err != nil {
			return nil, fmt.Errorf("create topic %q: %w", name, err)
		}
	}
	// Messages for one subscription are keyed on its id and must reach the region in publish order.
	t.EnableMessageOrdering = true
	return t, nil
}

func (c *pubsubChannel) PushConfig(ctx context.Context, regionSlug string, cfg *models.CheckConfig) error {
	return c.publish(ctx, c.configs, regionSlug, cfg.SubscriptionID, cfg)
}

func (c *pubsubChannel) PushRemoval(ctx context.Context, regionSlug, subscriptionID string) error {
	return c.publish(ctx, c.removals, regionSlug, subscriptionID, &models.ConfigRemoval{SubscriptionID: subscriptionID})
}

// publish waits for the server ack so a failed publish surfaces to the task and gets retried. A
// failure pauses the ordering key, so it is resumed for the retry to go through.
func (c *pubsubChannel) publish(ctx context.Context, topic *pubsub.Topic, regionSlug, orderingKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PushTimeout())
	defer cancel()

	result := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  map[string]string{regionAttribute: regionSlug},
		OrderingKey: orderingKey,
	})
	if _, err := result.Get(ctx); err != nil {
		topic.ResumePublish(orderingKey)
		return fmt.Errorf("publish to %s for region %s: %w", topic.ID(), regionSlug, err)
	}
	return nil
}
