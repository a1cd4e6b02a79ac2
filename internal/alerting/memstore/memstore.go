// Package memstore provides an in-memory implementation of alerting.Store.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/herald/internal/alerting"
	"github.com/linnemanlabs/herald/internal/event"
)

// Store holds events and alerts in memory. Suitable for dev/testing. A single
// mutex makes every conditional update atomic, mirroring the row-level
// guarantees of the Postgres store within one process.
type Store struct {
	mu      sync.RWMutex
	events  map[string]*event.Event
	alerts  map[string]*alerting.Alert // alert ID -> alert
	byEvent map[string]map[string]string // event ID -> alert type -> alert ID (uniqueness)
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		events:  make(map[string]*event.Event),
		alerts:  make(map[string]*alerting.Alert),
		byEvent: make(map[string]map[string]string),
	}
}

// PutEvent stores a copy of the event unless its ID is already known.
func (s *Store) PutEvent(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return nil
	}
	s.events[ev.ID] = cloneEvent(ev)
	return nil
}

// GetEvent retrieves an event by ID. Returns a copy.
func (s *Store) GetEvent(_ context.Context, id string) (*event.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, false, nil
	}
	return cloneEvent(ev), true, nil
}

// cloneEvent copies ev including the payload's links and contacts.
func cloneEvent(ev *event.Event) *event.Event {
	cp := *ev
	cp.Payload.Links = slices.Clone(ev.Payload.Links)
	cp.Payload.Contacts = maps.Clone(ev.Payload.Contacts)
	return &cp
}

// CreateIfAbsent stores a copy of the alert unless (EventID, AlertType) exists.
func (s *Store) CreateIfAbsent(_ context.Context, al *alerting.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types, ok := s.byEvent[al.EventID]
	if !ok {
		types = make(map[string]string)
		s.byEvent[al.EventID] = types
	}
	if _, exists := types[al.AlertType]; exists {
		return false, nil
	}
	cp := *al
	s.alerts[al.ID] = &cp
	types[al.AlertType] = al.ID
	return true, nil
}

// Get retrieves an alert by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*alerting.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	al, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *al
	return &cp, true, nil
}

// ListByEvent returns copies of an event's alerts ordered by ScheduledAt.
func (s *Store) ListByEvent(_ context.Context, eventID string) ([]*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alerting.Alert
	for _, id := range s.byEvent[eventID] {
		cp := *s.alerts[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DueAlerts returns copies of pending alerts scheduled at or before now,
// ordered by event then ScheduledAt.
func (s *Store) DueAlerts(_ context.Context, now time.Time) ([]*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alerting.Alert
	for _, al := range s.alerts {
		if al.Status != alerting.StatusPending || al.ScheduledAt.After(now) {
			continue
		}
		cp := *al
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Claim moves a pending alert to sending.
func (s *Store) Claim(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, ok := s.alerts[id]
	if !ok || al.Status != alerting.StatusPending {
		return false, nil
	}
	al.Status = alerting.StatusSending
	al.ClaimedAt = at
	return true, nil
}

// Confirm records the outcome of a claimed alert.
func (s *Store) Confirm(_ context.Context, id string, out alerting.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, ok := s.alerts[id]
	if !ok || al.Status != alerting.StatusSending {
		return false, nil
	}
	switch out.Status {
	case alerting.StatusDelivered:
		al.Status = alerting.StatusDelivered
		al.DeliveredAt = out.At
		al.ProviderRef = out.ProviderRef
	default:
		al.Status = alerting.StatusFailed
		al.Detail = out.Detail
	}
	return true, nil
}

// Cancel moves a pending alert to cancelled.
func (s *Store) Cancel(_ context.Context, id, detail string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	al, ok := s.alerts[id]
	if !ok || al.Status != alerting.StatusPending {
		return false, nil
	}
	al.Status = alerting.StatusCancelled
	al.Detail = detail
	return true, nil
}

// CountStuck counts alerts in sending claimed before claimedBefore.
func (s *Store) CountStuck(_ context.Context, claimedBefore time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, al := range s.alerts {
		if al.Status == alerting.StatusSending && al.ClaimedAt.Before(claimedBefore) {
			n++
		}
	}
	return n, nil
}
