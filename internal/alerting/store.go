package alerting

import (
	"context"
	"time"

	"github.com/linnemanlabs/herald/internal/event"
)

// Store is the persistence interface for events and alerts. Implementations must
// enforce uniqueness of (EventID, AlertType) and make Claim, Confirm and Cancel
// conditional updates on the current status.
type Store interface {
	// PutEvent inserts the event, ignoring a duplicate ID.
	PutEvent(ctx context.Context, ev *event.Event) error
	GetEvent(ctx context.Context, id string) (*event.Event, bool, error)

	// CreateIfAbsent inserts a pending alert. A conflicting (EventID, AlertType)
	// is a successful no-op and reports created=false.
	CreateIfAbsent(ctx context.Context, al *Alert) (created bool, err error)
	Get(ctx context.Context, id string) (*Alert, bool, error)
	ListByEvent(ctx context.Context, eventID string) ([]*Alert, error)

	// DueAlerts returns pending alerts with ScheduledAt <= now, ordered by event.
	DueAlerts(ctx context.Context, now time.Time) ([]*Alert, error)

	// Claim moves a pending alert to sending. Exactly one concurrent caller
	// observes true; the rest observe false.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)

	// Confirm records the outcome of a claimed alert. Returns false if the
	// alert was not in sending.
	Confirm(ctx context.Context, id string, out Outcome) (bool, error)

	// Cancel moves a pending alert to cancelled. Returns false, without error,
	// if it was no longer pending.
	Cancel(ctx context.Context, id, detail string) (bool, error)

	// CountStuck counts alerts claimed before the given time and never confirmed.
	CountStuck(ctx context.Context, claimedBefore time.Time) (int, error)
}
