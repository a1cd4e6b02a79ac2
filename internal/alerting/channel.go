package alerting

import (
	"context"
	"errors"
	"fmt"
)

// VoiceScript is the structured payload for call channels.
type VoiceScript struct {
	Language string   `json:"language"`
	Voice    string   `json:"voice"`
	Segments []string `json:"segments"`
	Repeat   int      `json:"repeat"`
}

// Payload is a rendered, channel-specific message.
type Payload struct {
	Channel string       `json:"channel"`
	Subject string       `json:"subject,omitempty"`
	Body    string       `json:"body"`
	Voice   *VoiceScript `json:"voice,omitempty"`
}

// SendResult is what a provider returns on success.
type SendResult struct {
	ProviderRef string
}

// Channel delivers a rendered payload to a target.
type Channel interface {
	Send(ctx context.Context, target string, p *Payload) (SendResult, error)
}

// SendError classifies a channel failure.
type SendError struct {
	Permanent bool
	Reason    string
	Err       error
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s send failure: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s send failure: %s", kind, e.Reason)
}

func (e *SendError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable failure (invalid target, rejected payload).
func Permanent(reason string, err error) error {
	return &SendError{Permanent: true, Reason: reason, Err: err}
}

// Transient wraps err as a retryable failure (timeout, rate limit).
func Transient(reason string, err error) error {
	return &SendError{Reason: reason, Err: err}
}

// IsPermanent reports whether err was classified as permanent. Unclassified
// errors, including context deadlines, are transient.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}

// Channels maps channel kinds to providers. A missing or nil entry means the
// channel is disabled.
type Channels map[string]Channel

// Lookup returns the provider for kind, if enabled.
func (c Channels) Lookup(kind string) (Channel, bool) {
	ch, ok := c[kind]
	if !ok || ch == nil {
		return nil, false
	}
	return ch, true
}

// FailureNotifier surfaces failed deliveries for operator attention.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, al *Alert, reason string) error
}
