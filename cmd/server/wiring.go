package main

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/alerting"
	hc "github.com/linnemanlabs/herald/internal/cfg"
	"github.com/linnemanlabs/herald/internal/notify/logchan"
	"github.com/linnemanlabs/herald/internal/notify/webhook"
)

// buildRules assembles the tier table from the configured offsets and loads
// the rule table from disk when a rules file is configured.
func buildRules(c *hc.Config) (*alerting.Rules, error) {
	tiers := alerting.DefaultTiers(c.OffsetEarly, c.OffsetMid, c.OffsetCritical)
	enabled := c.ChannelsEnabled()
	if c.RulesFile != "" {
		return alerting.LoadRules(c.RulesFile, tiers, enabled)
	}
	return alerting.NewRules(tiers, alerting.DefaultRules(), enabled)
}

// buildChannels creates one channel per enabled delivery kind. A kind with
// no provider URL logs its payloads instead of sending them.
func buildChannels(ctx context.Context, c *hc.Config, logger log.Logger) (alerting.Channels, error) {
	urls := c.WebhookURLs()
	channels := alerting.Channels{}
	for kind, on := range c.ChannelsEnabled() {
		if !on {
			continue
		}
		url := urls[kind]
		if url == "" {
			channels[kind] = logchan.New(kind, logger)
			logger.Warn(ctx, "no provider configured, payloads will be logged", "channel", kind)
			continue
		}
		var opts []webhook.Option
		if c.ProviderAuthToken != "" {
			opts = append(opts, webhook.WithHeader("Authorization", "Bearer "+c.ProviderAuthToken))
		}
		ch, err := webhook.New(kind, url, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s channel: %w", kind, err)
		}
		channels[kind] = ch
		logger.Info(ctx, "channel enabled", "channel", kind, "provider", "webhook")
	}
	return channels, nil
}
