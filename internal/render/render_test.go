package render

import (
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/herald/internal/alerting"
	"github.com/linnemanlabs/herald/internal/event"
)

var start = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func testEvent() *event.Event {
	return &event.Event{
		ID:         "ev-1",
		UserID:     "u-1",
		Type:       "meeting",
		OccurredAt: start,
		Payload: event.Payload{
			Title:       "Design review",
			Description: "Walk through the storage proposal.",
			Location:    "Room 4",
			Links: []event.Link{
				{Name: "join", URL: "https://meet.example.com/abc"},
				{URL: "https://docs.example.com/doc"},
			},
		},
	}
}

func TestRender_Email(t *testing.T) {
	t.Parallel()

	r := New()
	al := &alerting.Alert{AlertType: "early", Channel: alerting.ChannelEmail}
	p := r.Render(al, testEvent(), start.Add(-12*time.Minute))

	if p.Channel != alerting.ChannelEmail {
		t.Errorf("channel = %q, want email", p.Channel)
	}
	if p.Subject != "Design review starts in 12 minutes" {
		t.Errorf("subject = %q", p.Subject)
	}
	for _, want := range []string{
		"When: Mon Mar 2 15:00 UTC",
		"Where: Room 4",
		"Walk through the storage proposal.",
		"- join: https://meet.example.com/abc",
		"- link: https://docs.example.com/doc",
	} {
		if !strings.Contains(p.Body, want) {
			t.Errorf("body missing %q:\n%s", want, p.Body)
		}
	}
	if p.Voice != nil {
		t.Error("email payload should not carry a voice script")
	}
}

func TestRender_SMS(t *testing.T) {
	t.Parallel()

	r := New()
	al := &alerting.Alert{AlertType: "mid", Channel: alerting.ChannelSMS}
	p := r.Render(al, testEvent(), start.Add(-5*time.Minute))

	want := "Design review starts in 5 minutes (Mon Mar 2 15:00 UTC). https://meet.example.com/abc"
	if p.Body != want {
		t.Errorf("body = %q, want %q", p.Body, want)
	}
	if p.Subject != "" {
		t.Errorf("sms subject = %q, want empty", p.Subject)
	}
}

func TestRender_SMSTruncated(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.Payload.Title = strings.Repeat("long ", 200)

	p := New().Render(&alerting.Alert{Channel: alerting.ChannelSMS}, ev, start)
	if n := len([]rune(p.Body)); n != maxSMSLen {
		t.Errorf("sms length = %d, want %d", n, maxSMSLen)
	}
	if !strings.HasSuffix(p.Body, "...") {
		t.Error("truncated sms should end with ...")
	}
}

func TestRender_Voice(t *testing.T) {
	t.Parallel()

	r := New(WithVoice("en-GB", "amy"), WithRepeat(3))
	al := &alerting.Alert{AlertType: "critical", Channel: alerting.ChannelVoice}
	p := r.Render(al, testEvent(), start.Add(-90*time.Second))

	if p.Voice == nil {
		t.Fatal("voice payload missing script")
	}
	if p.Voice.Language != "en-GB" || p.Voice.Voice != "amy" || p.Voice.Repeat != 3 {
		t.Errorf("voice settings = %+v", p.Voice)
	}
	if p.Voice.Segments[1] != "Design review starts in 2 minutes." {
		t.Errorf("segment = %q", p.Voice.Segments[1])
	}
	if !strings.Contains(p.Body, "Location: Room 4.") {
		t.Errorf("body = %q, want location", p.Body)
	}
}

func TestRender_MissingContext(t *testing.T) {
	t.Parallel()

	r := New()
	channels := []string{alerting.ChannelEmail, alerting.ChannelSMS, alerting.ChannelVoice, "pager"}
	events := map[string]*event.Event{
		"nil event":  nil,
		"empty":      {ID: "ev-2"},
		"blank link": {ID: "ev-3", OccurredAt: start, Payload: event.Payload{Links: []event.Link{{Name: "x"}}}},
	}

	for name, ev := range events {
		for _, ch := range channels {
			t.Run(name+"/"+ch, func(t *testing.T) {
				t.Parallel()
				p := r.Render(&alerting.Alert{Channel: ch}, ev, start)
				if p == nil {
					t.Fatal("nil payload")
				}
				if !strings.Contains(p.Body, defaultTitle) {
					t.Errorf("body = %q, want default title", p.Body)
				}
			})
		}
	}

	p := r.Render(&alerting.Alert{Channel: alerting.ChannelEmail}, nil, start)
	if !strings.Contains(p.Body, noLinks) {
		t.Errorf("body = %q, want %q", p.Body, noLinks)
	}
	if !strings.Contains(p.Body, unknownStart) {
		t.Errorf("body = %q, want %q", p.Body, unknownStart)
	}
}

func TestRender_Location(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 3600)
	p := New(WithLocation(loc)).Render(&alerting.Alert{Channel: alerting.ChannelSMS}, testEvent(), start)
	if !strings.Contains(p.Body, "16:00 CET") {
		t.Errorf("body = %q, want local start time", p.Body)
	}
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Minute, "is starting now"},
		{0, "is starting now"},
		{10 * time.Second, "starts in 1 minute"},
		{time.Minute, "starts in 1 minute"},
		{61 * time.Second, "starts in 2 minutes"},
		{12 * time.Minute, "starts in 12 minutes"},
		{2 * time.Hour, "starts in 2 hours"},
		{150 * time.Minute, "starts in 2h30m"},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			t.Parallel()
			if got := remaining(tt.in); got != tt.want {
				t.Errorf("remaining(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func FuzzRender(f *testing.F) {
	f.Add("Standup", "daily", "https://x", "email", int64(300))
	f.Add("", "", "", "", int64(0))
	f.Add("{{.Title}}", "\x00\x01", "not a url", "voice", int64(-600))
	f.Add(strings.Repeat("A", 2000), "", "", "sms", int64(1<<40))

	f.Fuzz(func(t *testing.T, title, desc, link, channel string, secs int64) {
		ev := &event.Event{
			ID:         "fuzz",
			OccurredAt: start,
			Payload: event.Payload{
				Title:       title,
				Description: desc,
				Links:       []event.Link{{URL: link}},
			},
		}
		p := New().Render(&alerting.Alert{Channel: channel}, ev, start.Add(-time.Duration(secs)*time.Second))
		if p == nil || p.Body == "" {
			t.Fatal("render produced an empty payload")
		}
	})
}
