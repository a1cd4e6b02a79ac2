package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/herald/internal/alerting"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Channel {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ch, err := New(alerting.ChannelSMS, srv.URL, WithHTTPClient(srv.Client()), WithHeader("Authorization", "Bearer k"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ch
}

func TestSend_PostsPayload(t *testing.T) {
	t.Parallel()

	var got request
	ch := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	})

	res, err := ch.Send(context.Background(), "+15550100", &alerting.Payload{Channel: alerting.ChannelSMS, Body: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderRef != "SM123" {
		t.Errorf("provider ref = %q, want SM123", res.ProviderRef)
	}
	if got.Channel != alerting.ChannelSMS || got.Target != "+15550100" || got.Body != "hello" {
		t.Errorf("request = %+v", got)
	}
}

func TestSend_ProviderRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		header string
		want   string
	}{
		{"id", `{"id":"msg-1"}`, "", "msg-1"},
		{"message_id wins over header", `{"message_id":"m-2"}`, "req-9", "m-2"},
		{"nested", `{"data":{"id":"d-3"}}`, "", "d-3"},
		{"numeric id", `{"id":42}`, "", "42"},
		{"header fallback", `{"ok":true}`, "req-4", "req-4"},
		{"not json", `accepted`, "req-5", "req-5"},
		{"empty", ``, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.header != "" {
					w.Header().Set(requestIDHeader, tt.header)
				}
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(tt.body))
			})
			res, err := ch.Send(context.Background(), "t", &alerting.Payload{Body: "b"})
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if res.ProviderRef != tt.want {
				t.Errorf("provider ref = %q, want %q", res.ProviderRef, tt.want)
			}
		})
	}
}

func TestSend_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		body      string
		permanent bool
		contains  string
	}{
		{http.StatusBadRequest, `{"error":{"message":"invalid phone number"}}`, true, "invalid phone number"},
		{http.StatusNotFound, `not found`, true, "404"},
		{http.StatusUnprocessableEntity, `{"message":"payload rejected"}`, true, "payload rejected"},
		{http.StatusRequestTimeout, ``, false, "408"},
		{http.StatusTooManyRequests, `{"error":"rate limited"}`, false, "rate limited"},
		{http.StatusInternalServerError, `boom`, false, "boom"},
		{http.StatusServiceUnavailable, ``, false, "empty response body"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			ch := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := ch.Send(context.Background(), "t", &alerting.Payload{Body: "b"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := alerting.IsPermanent(err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v (err: %v)", got, tt.permanent, err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.contains)
			}
		})
	}
}

func TestSend_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	ch := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ch.Send(ctx, "t", &alerting.Payload{Body: "b"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if alerting.IsPermanent(err) {
		t.Errorf("timeout classified as permanent: %v", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %q, want timeout reason", err.Error())
	}
}

func TestSend_EmptyTargetIsPermanent(t *testing.T) {
	t.Parallel()

	called := false
	ch := newTestServer(t, func(http.ResponseWriter, *http.Request) { called = true })

	_, err := ch.Send(context.Background(), "", &alerting.Payload{Body: "b"})
	if !alerting.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if called {
		t.Error("provider should not be called for an empty target")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, kind, url string
		wantErr         bool
	}{
		{"ok", "email", "https://mail.example.com/send", false},
		{"empty kind", "", "https://x", true},
		{"no scheme", "sms", "mail.example.com", true},
		{"bad scheme", "sms", "ftp://x", true},
		{"unparsable", "sms", "http://[::1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.kind, tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q, %q) err = %v, wantErr %v", tt.kind, tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestNew_SendBoundOnlyByContext(t *testing.T) {
	t.Parallel()

	ch, err := New(alerting.ChannelVoice, "https://voice.example.com/call")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ch.client.Timeout != 0 {
		t.Errorf("client timeout = %s, want none so the caller's send timeout governs", ch.client.Timeout)
	}
}

func TestSend_SlowProviderWithinContext(t *testing.T) {
	t.Parallel()

	ch := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"slow-1"}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := ch.Send(ctx, "t", &alerting.Payload{Body: "b"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderRef != "slow-1" {
		t.Errorf("ProviderRef = %q, want slow-1", res.ProviderRef)
	}
}
