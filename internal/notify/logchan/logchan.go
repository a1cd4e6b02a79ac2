// Package logchan is an alerting.Channel that only logs the rendered payload.
// herald falls back to it for enabled channels that have no provider endpoint.
package logchan

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/herald/internal/alerting"
)

// Channel logs instead of sending.
type Channel struct {
	kind   string
	logger log.Logger
}

// New creates a logging channel for kind.
func New(kind string, logger log.Logger) *Channel {
	if logger == nil {
		logger = log.Nop()
	}
	return &Channel{kind: kind, logger: logger}
}

// Send logs the payload and returns a synthetic provider reference.
func (c *Channel) Send(ctx context.Context, target string, p *alerting.Payload) (alerting.SendResult, error) {
	if target == "" {
		return alerting.SendResult{}, alerting.Permanent("empty target", nil)
	}
	ref := "log-" + ulid.Make().String()
	fields := []any{
		"channel", c.kind,
		"target", target,
		"body", p.Body,
		"provider_ref", ref,
	}
	if p.Subject != "" {
		fields = append(fields, "subject", p.Subject)
	}
	if p.Voice != nil {
		fields = append(fields, "voice_segments", len(p.Voice.Segments), "voice_repeat", p.Voice.Repeat)
	}
	c.logger.Info(ctx, "alert sent to log channel", fields...)
	return alerting.SendResult{ProviderRef: ref}, nil
}
