package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/herald/internal/event"
)

// ErrInvalidEvent is returned by Schedule for events that fail validation.
var ErrInvalidEvent = errors.New("invalid event")

// ScheduleResult is the outcome of scheduling an event.
type ScheduleResult struct {
	EventID    string   `json:"event_id"`
	Created    []string `json:"created,omitempty"`    // IDs of newly created alerts
	Duplicates []string `json:"duplicates,omitempty"` // alert types that already existed
	Skipped    bool     `json:"skipped,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Service is the business boundary for event scheduling and alert queries.
type Service struct {
	store  Store
	rules  *Rules
	logger log.Logger
	hooks  Hooks
	now    func() time.Time
}

// NewService creates a new alerting service.
func NewService(store Store, rules *Rules, logger log.Logger, hooks Hooks) *Service {
	return &Service{
		store:  store,
		rules:  rules,
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
	}
}

// Schedule records an event and creates its pending alerts. It is idempotent:
// scheduling the same event again creates nothing new.
func (s *Service) Schedule(ctx context.Context, ev *event.Event) (*ScheduleResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if err := s.store.PutEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("put event %s: %w", ev.ID, err)
	}

	res := &ScheduleResult{EventID: ev.ID}
	specs := s.rules.Evaluate(ev)
	if len(specs) == 0 {
		res.Skipped = true
		res.Reason = "no rule for event type"
		return res, nil
	}

	now := s.now().UTC()
	for _, spec := range specs {
		al := &Alert{
			ID:          ulid.Make().String(),
			UserID:      ev.UserID,
			EventID:     ev.ID,
			Category:    ev.Category,
			AlertType:   spec.AlertType,
			Channel:     spec.Channel,
			Status:      StatusPending,
			ScheduledAt: ev.OccurredAt.Add(-spec.Offset).UTC(),
			CreatedAt:   now,
		}
		created, err := s.store.CreateIfAbsent(ctx, al)
		if err != nil {
			return nil, fmt.Errorf("create alert %s/%s: %w", ev.ID, spec.AlertType, err)
		}
		s.hooks.created(spec.AlertType, created)
		if created {
			res.Created = append(res.Created, al.ID)
		} else {
			res.Duplicates = append(res.Duplicates, spec.AlertType)
		}
	}

	s.logger.Info(ctx, "event scheduled",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"created", len(res.Created),
		"duplicates", len(res.Duplicates),
	)
	return res, nil
}

// Get retrieves an alert by ID.
func (s *Service) Get(ctx context.Context, id string) (*Alert, bool, error) {
	return s.store.Get(ctx, id)
}

// ListByEvent returns every alert of an event, in any status.
func (s *Service) ListByEvent(ctx context.Context, eventID string) ([]*Alert, error) {
	return s.store.ListByEvent(ctx, eventID)
}
