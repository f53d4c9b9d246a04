package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/uptimesync/lib/models"
	"go.uber.org/fx"
)

const regionHeader = "X-Uptime-Region"

// httpChannel talks to each region's checker over its config API.
type httpChannel struct {
	base
	endpoints map[string]string
	timeout   time.Duration
}

func newHTTPChannel(lc fx.Lifecycle, b base) (Channel, error) {
	endpoints := b.cfg.GetRegionEndpoints()
	for _, region := range b.cfg.GetRegions() {
		if _, ok := endpoints[region.Slug]; !ok {
			return nil, fmt.Errorf("no endpoint configured for region %s, check REGION_ENDPOINTS", region.Slug)
		}
	}
	return newHTTP(b, endpoints, b.cfg.PushTimeout()), nil
}

func newHTTP(b base, endpoints map[string]string, timeout time.Duration) *httpChannel {
	return &httpChannel{b, endpoints, timeout}
}

func (c *httpChannel) endpoint(regionSlug string) (string, error) {
	endpoint, ok := c.endpoints[regionSlug]
	if !ok {
		return "", fmt.Errorf("unknown region: %s", regionSlug)
	}
	return endpoint, nil
}

func (c *httpChannel) PushConfig(ctx context.Context, regionSlug string, cfg *models.CheckConfig) error {
	endpoint, err := c.endpoint(regionSlug)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err = requests.URL(endpoint).
		Path("/v1/checks").
		Transport(c.transport).
		Header(regionHeader, regionSlug).
		BodyJSON(cfg).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("push config to %s: %w", regionSlug, err)
	}
	return nil
}

func (c *httpChannel) PushRemoval(ctx context.Context, regionSlug, subscriptionID string) error {
	endpoint, err := c.endpoint(regionSlug)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err = requests.URL(endpoint).
		Path("/v1/checks/"+url.PathEscape(subscriptionID)).
		Method(http.MethodDelete).
		Transport(c.transport).
		Header(regionHeader, regionSlug).
		AddValidator(func(res *http.Response) error {
			// Already gone counts as removed.
			if res.StatusCode == http.StatusNotFound {
				return nil
			}
			return requests.DefaultValidator(res)
		}).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("push removal to %s: %w", regionSlug, err)
	}
	return nil
}
