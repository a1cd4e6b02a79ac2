// Package render builds channel payloads for due alerts. Rendering is pure:
// no I/O, and missing event context is replaced with default phrases.
package render

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/linnemanlabs/herald/internal/alerting"
	"github.com/linnemanlabs/herald/internal/event"
)

const (
	defaultTitle    = "Upcoming event"
	defaultLinkName = "link"
	noLinks         = "No links provided."
	unknownStart    = "time not set"
	maxSMSLen       = 320
	timeLayout      = "Mon Jan 2 15:04 MST"
)

const emailSubjectTemplate = `{{.Title}} {{.Remaining}}`

const emailBodyTemplate = `{{.Title}} {{.Remaining}}.

When: {{.Start}}
{{- with .Location}}
Where: {{.}}
{{- end}}
{{- with .Description}}

{{.}}
{{- end}}

{{if .Links}}Links:
{{- range .Links}}
- {{.Name}}: {{.URL}}
{{- end}}{{else}}` + noLinks + `{{end}}
`

const smsTemplate = `{{.Title}} {{.Remaining}} ({{.Start}}).{{with .FirstLink}} {{.URL}}{{end}}`

// data is what templates see. Every field is already defaulted.
type data struct {
	Title       string
	Description string
	Location    string
	Start       string
	Remaining   string
	Links       []event.Link
	FirstLink   *event.Link
	AlertType   string
}

// Renderer implements alerting.Renderer.
type Renderer struct {
	subject *template.Template
	email   *template.Template
	sms     *template.Template

	loc      *time.Location
	language string
	voice    string
	repeat   int
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLocation sets the zone start times are shown in.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithVoice sets the language and voice name of call scripts.
func WithVoice(language, voice string) Option {
	return func(r *Renderer) {
		if language != "" {
			r.language = language
		}
		if voice != "" {
			r.voice = voice
		}
	}
}

// WithRepeat sets how many times a call script is read out.
func WithRepeat(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.repeat = n
		}
	}
}

// New creates a Renderer with the built-in templates.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		subject:  template.Must(template.New("email-subject").Parse(emailSubjectTemplate)),
		email:    template.Must(template.New("email-body").Parse(emailBodyTemplate)),
		sms:      template.Must(template.New("sms").Parse(smsTemplate)),
		loc:      time.UTC,
		language: "en-US",
		voice:    "alice",
		repeat:   2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render builds the payload for al's channel. ev may be nil.
func (r *Renderer) Render(al *alerting.Alert, ev *event.Event, now time.Time) *alerting.Payload {
	d := r.data(al, ev, now)

	switch al.Channel {
	case alerting.ChannelEmail:
		return &alerting.Payload{
			Channel: al.Channel,
			Subject: r.execute(r.subject, d),
			Body:    r.execute(r.email, d),
		}
	case alerting.ChannelVoice:
		script := r.voiceScript(d)
		return &alerting.Payload{
			Channel: al.Channel,
			Body:    strings.Join(script.Segments, " "),
			Voice:   script,
		}
	default:
		return &alerting.Payload{
			Channel: al.Channel,
			Body:    truncate(r.execute(r.sms, d), maxSMSLen),
		}
	}
}

func (r *Renderer) data(al *alerting.Alert, ev *event.Event, now time.Time) data {
	d := data{
		Title:     defaultTitle,
		Start:     unknownStart,
		Remaining: "is coming up",
		AlertType: al.AlertType,
	}
	if ev == nil {
		return d
	}

	if t := strings.TrimSpace(ev.Payload.Title); t != "" {
		d.Title = t
	}
	d.Description = strings.TrimSpace(ev.Payload.Description)
	d.Location = strings.TrimSpace(ev.Payload.Location)

	for _, l := range ev.Payload.Links {
		if l.URL == "" {
			continue
		}
		if l.Name == "" {
			l.Name = defaultLinkName
		}
		d.Links = append(d.Links, l)
	}
	if len(d.Links) > 0 {
		d.FirstLink = &d.Links[0]
	}

	if !ev.OccurredAt.IsZero() {
		d.Start = ev.OccurredAt.In(r.loc).Format(timeLayout)
		d.Remaining = remaining(ev.OccurredAt.Sub(now))
	}
	return d
}

func (r *Renderer) voiceScript(d data) *alerting.VoiceScript {
	segments := []string{
		"This is a reminder from herald.",
		fmt.Sprintf("%s %s.", d.Title, d.Remaining),
	}
	if d.Location != "" {
		segments = append(segments, fmt.Sprintf("Location: %s.", d.Location))
	}
	if len(d.Links) > 0 {
		segments = append(segments, "Links have been sent to you by message.")
	}
	return &alerting.VoiceScript{
		Language: r.language,
		Voice:    r.voice,
		Segments: segments,
		Repeat:   r.repeat,
	}
}

// execute runs a built-in template. Execution can only fail on a broken
// template, in which case the plain title line is still better than nothing.
func (r *Renderer) execute(t *template.Template, d data) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return fmt.Sprintf("%s %s.", d.Title, d.Remaining)
	}
	return buf.String()
}

// remaining phrases the time left until the event, rounding minutes up.
func remaining(d time.Duration) string {
	if d <= 0 {
		return "is starting now"
	}
	mins := int(math.Ceil(d.Minutes()))
	switch {
	case mins == 1:
		return "starts in 1 minute"
	case mins < 120:
		return fmt.Sprintf("starts in %d minutes", mins)
	default:
		h := mins / 60
		if m := mins % 60; m != 0 {
			return fmt.Sprintf("starts in %dh%02dm", h, m)
		}
		return fmt.Sprintf("starts in %d hours", h)
	}
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-3]) + "..."
}
