// Package webhook delivers rendered alerts to an HTTP provider endpoint. One
// Channel serves one channel kind (email, sms, voice); the provider behind the
// URL does the actual transport.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/herald/internal/alerting"
)

const (
	maxResponseBody = 64 << 10
	maxErrorBody    = 512
	requestIDHeader = "X-Request-Id"
)

// provider reference locations tried in order on a 2xx JSON response
var refPaths = []string{"id", "sid", "message_id", "data.id"}

// provider error message locations tried in order on a non-2xx JSON response
var errPaths = []string{"error.message", "message", "error"}

// request is the JSON body posted to the provider.
type request struct {
	Channel string                `json:"channel"`
	Target  string                `json:"target"`
	Subject string                `json:"subject,omitempty"`
	Body    string                `json:"body"`
	Voice   *alerting.VoiceScript `json:"voice,omitempty"`
}

// Channel implements alerting.Channel over HTTP.
type Channel struct {
	kind    string
	url     string
	client  *http.Client
	headers map[string]string
}

// Option configures a Channel.
type Option func(*Channel)

// WithHTTPClient overrides the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Channel) {
		if c != nil {
			ch.client = c
		}
	}
}

// WithHeader adds a static header to every request, e.g. provider auth.
func WithHeader(key, value string) Option {
	return func(ch *Channel) {
		if key != "" {
			ch.headers[key] = value
		}
	}
}

// New creates a Channel for kind posting to endpoint.
func New(kind, endpoint string, opts ...Option) (*Channel, error) {
	if kind == "" {
		return nil, errors.New("webhook: empty channel kind")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: parse url: %w", kind, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook %s: url must be http or https, got %q", kind, endpoint)
	}

	ch := &Channel{
		kind: kind,
		url:  endpoint,
		// no client timeout: each Send is bounded by its context
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts the payload. Timeouts, network errors, 408, 429 and 5xx are
// transient; any other non-2xx is permanent.
func (c *Channel) Send(ctx context.Context, target string, p *alerting.Payload) (alerting.SendResult, error) {
	if target == "" {
		return alerting.SendResult{}, alerting.Permanent("empty target", nil)
	}

	body, err := json.Marshal(request{
		Channel: c.kind,
		Target:  target,
		Subject: p.Subject,
		Body:    p.Body,
		Voice:   p.Voice,
	})
	if err != nil {
		return alerting.SendResult{}, alerting.Permanent("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return alerting.SendResult{}, alerting.Permanent("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: provider URL is from trusted config
	if err != nil {
		if ctx.Err() != nil {
			return alerting.SendResult{}, alerting.Transient("timeout", err)
		}
		return alerting.SendResult{}, alerting.Transient("network", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return alerting.SendResult{ProviderRef: providerRef(respBody, resp.Header)}, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	reason := fmt.Sprintf("%s provider returned %d", c.kind, resp.StatusCode)
	cause := errors.New(errorMessage(respBody))
	if retryable(resp.StatusCode) {
		return alerting.SendResult{}, alerting.Transient(reason, cause)
	}
	return alerting.SendResult{}, alerting.Permanent(reason, cause)
}

func retryable(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

func providerRef(body []byte, h http.Header) string {
	if len(body) > 0 && gjson.ValidBytes(body) {
		for _, r := range gjson.GetManyBytes(body, refPaths...) {
			if r.Exists() && r.String() != "" {
				return r.String()
			}
		}
	}
	return h.Get(requestIDHeader)
}

func errorMessage(body []byte) string {
	if len(body) == 0 {
		return "empty response body"
	}
	if gjson.ValidBytes(body) {
		for _, r := range gjson.GetManyBytes(body, errPaths...) {
			if r.Type == gjson.String && r.String() != "" {
				return r.String()
			}
		}
	}
	return string(body)
}
