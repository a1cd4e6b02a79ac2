// Package event defines the calendar-style facts herald schedules reminders for.
package event

import (
	"errors"
	"fmt"
	"time"
)

// Link is a named URL attached to an event (join link, runbook, ticket).
type Link struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Payload is the opaque, human-facing context of an event. Every field is optional.
type Payload struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Location    string            `json:"location,omitempty"`
	Links       []Link            `json:"links,omitempty"`
	Contacts    map[string]string `json:"contacts,omitempty"` // channel -> target (address, phone number)
}

// Event is an immutable fact created once by ingestion.
type Event struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Category   string    `json:"category"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     string    `json:"source"`
	Payload    Payload   `json:"payload"`
}

// Validate checks the fields the scheduler relies on.
func (e *Event) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("event: empty id"))
	}
	if e.UserID == "" {
		errs = append(errs, errors.New("event: empty user_id"))
	}
	if e.Type == "" {
		errs = append(errs, errors.New("event: empty type"))
	}
	if e.OccurredAt.IsZero() {
		errs = append(errs, fmt.Errorf("event %q: missing occurred_at", e.ID))
	}
	return errors.Join(errs...)
}

// Target returns the delivery target for a channel, falling back to the user ID
// when the event carries no explicit contact for it.
func (e *Event) Target(channel string) string {
	if t, ok := e.Payload.Contacts[channel]; ok && t != "" {
		return t
	}
	return e.UserID
}
