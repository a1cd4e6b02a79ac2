// Package pgstore provides a PostgreSQL implementation of alerting.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/herald/internal/alerting"
	"github.com/linnemanlabs/herald/internal/event"
)

var tracer = otel.Tracer("github.com/linnemanlabs/herald/internal/alerting/pgstore")

//go:embed schema.sql
var schema string

// Store persists events and alerts in PostgreSQL. Uniqueness of
// (event_id, alert_type) is a table constraint, and every status transition is
// a single UPDATE guarded by the expected current status.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `id, user_id, event_id, category, alert_type, channel, status,
	scheduled_at, claimed_at, delivered_at, created_at, provider_ref, detail`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// PutEvent inserts an event, leaving an existing row with the same ID untouched.
func (s *Store) PutEvent(ctx context.Context, ev *event.Event) error {
	ctx, span := startSpan(ctx, "pgstore.PutEvent", "INSERT")
	defer span.End()

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fail(span, fmt.Errorf("marshal payload: %w", err))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, user_id, category, type, occurred_at, source, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.UserID, ev.Category, ev.Type, ev.OccurredAt, ev.Source, payload,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert event: %w", err))
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetEvent", "SELECT")
	defer span.End()

	var (
		ev      event.Event
		payload []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, category, type, occurred_at, source, payload FROM events WHERE id = $1`,
		id,
	).Scan(&ev.ID, &ev.UserID, &ev.Category, &ev.Type, &ev.OccurredAt, &ev.Source, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan event: %w", err))
	}
	if err := json.Unmarshal(payload, &ev.Payload); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal payload: %w", err))
	}
	return &ev, true, nil
}

// CreateIfAbsent inserts a pending alert. The unique constraint decides races:
// ON CONFLICT DO NOTHING turns a duplicate into zero affected rows.
func (s *Store) CreateIfAbsent(ctx context.Context, al *alerting.Alert) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.CreateIfAbsent", "INSERT")
	defer span.End()
	span.SetAttributes(
		attribute.String("herald.event.id", al.EventID),
		attribute.String("herald.alert.type", al.AlertType),
	)

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, user_id, event_id, category, alert_type, channel, status, scheduled_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8)
		 ON CONFLICT (event_id, alert_type) DO NOTHING`,
		al.ID, al.UserID, al.EventID, al.Category, al.AlertType, al.Channel, al.ScheduledAt, al.CreatedAt,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("insert alert: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*alerting.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	al, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, err)
	}
	return al, true, nil
}

// ListByEvent returns every alert of an event ordered by scheduled time.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]*alerting.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListByEvent", "SELECT")
	defer span.End()

	out, err := s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE event_id = $1 ORDER BY scheduled_at, created_at`,
		eventID,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// DueAlerts returns pending alerts scheduled at or before now.
func (s *Store) DueAlerts(ctx context.Context, now time.Time) ([]*alerting.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.DueAlerts", "SELECT")
	defer span.End()

	out, err := s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE status = 'pending' AND scheduled_at <= $1
		 ORDER BY event_id, scheduled_at, created_at`,
		now,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("herald.due.count", len(out)))
	return out, nil
}

// Claim moves a pending alert to sending. RowsAffected is the arbiter: 1 means
// this caller owns delivery, 0 means someone else got there first.
func (s *Store) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Claim", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'sending', claimed_at = $2 WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("claim alert %s: %w", id, err))
	}
	won := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("herald.claim.won", won))
	return won, nil
}

// Confirm records the outcome of a claimed alert.
func (s *Store) Confirm(ctx context.Context, id string, out alerting.Outcome) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Confirm", "UPDATE")
	defer span.End()

	var (
		query string
		args  []any
	)
	if out.Status == alerting.StatusDelivered {
		query = `UPDATE alerts SET status = 'delivered', delivered_at = $2, provider_ref = $3
		         WHERE id = $1 AND status = 'sending'`
		args = []any{id, out.At, out.ProviderRef}
	} else {
		query = `UPDATE alerts SET status = 'failed', detail = $2
		         WHERE id = $1 AND status = 'sending'`
		args = []any{id, out.Detail}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fail(span, fmt.Errorf("confirm alert %s: %w", id, err))
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel moves a pending alert to cancelled; a no-op if it is no longer pending.
func (s *Store) Cancel(ctx context.Context, id, detail string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Cancel", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = 'cancelled', detail = $2 WHERE id = $1 AND status = 'pending'`,
		id, detail,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("cancel alert %s: %w", id, err))
	}
	return tag.RowsAffected() == 1, nil
}

// CountStuck counts alerts left in sending since before claimedBefore.
func (s *Store) CountStuck(ctx context.Context, claimedBefore time.Time) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.CountStuck", "SELECT")
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM alerts WHERE status = 'sending' AND claimed_at < $1`,
		claimedBefore,
	).Scan(&n)
	if err != nil {
		return 0, fail(span, fmt.Errorf("count stuck: %w", err))
	}
	return n, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*alerting.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alerting.Alert
	for rows.Next() {
		al, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, al)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// scanAlert scans one row in alertColumns order. pgx.ErrNoRows is returned
// unwrapped so callers can test for it.
func scanAlert(row pgx.Row) (*alerting.Alert, error) {
	var (
		al          alerting.Alert
		status      string
		claimedAt   *time.Time
		deliveredAt *time.Time
	)
	err := row.Scan(
		&al.ID, &al.UserID, &al.EventID, &al.Category, &al.AlertType, &al.Channel, &status,
		&al.ScheduledAt, &claimedAt, &deliveredAt, &al.CreatedAt, &al.ProviderRef, &al.Detail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	al.Status = alerting.Status(status)
	if claimedAt != nil {
		al.ClaimedAt = *claimedAt
	}
	if deliveredAt != nil {
		al.DeliveredAt = *deliveredAt
	}
	return &al, nil
}
