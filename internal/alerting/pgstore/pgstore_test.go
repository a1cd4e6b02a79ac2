package pgstore_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/herald/internal/alerting"
	"github.com/linnemanlabs/herald/internal/alerting/pgstore"
	"github.com/linnemanlabs/herald/internal/event"
	"github.com/linnemanlabs/herald/internal/postgres"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("HERALD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HERALD_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

// seedEvent stores a fresh event and returns it. IDs are unique per call so
// tests can share a database.
func seedEvent(t *testing.T, s *pgstore.Store, at time.Time) *event.Event {
	t.Helper()
	ev := &event.Event{
		ID:         "ev-" + ulid.Make().String(),
		UserID:     "user-1",
		Category:   "calendar",
		Type:       "meeting",
		OccurredAt: at,
		Source:     "test",
		Payload: event.Payload{
			Title:    "Design review",
			Links:    []event.Link{{Name: "join", URL: "https://meet.example.com/x"}},
			Contacts: map[string]string{"sms": "+15550100"},
		},
	}
	if err := s.PutEvent(context.Background(), ev); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	return ev
}

func newAlert(ev *event.Event, alertType, channel string, scheduled time.Time) *alerting.Alert {
	return &alerting.Alert{
		ID:          ulid.Make().String(),
		UserID:      ev.UserID,
		EventID:     ev.ID,
		Category:    ev.Category,
		AlertType:   alertType,
		Channel:     channel,
		Status:      alerting.StatusPending,
		ScheduledAt: scheduled,
		CreatedAt:   time.Now().Truncate(time.Microsecond).UTC(),
	}
}

func TestEventRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour).Truncate(time.Microsecond).UTC()
	ev := seedEvent(t, s, at)

	// a second put with the same ID is ignored
	dup := *ev
	dup.Type = "incident"
	if err := s.PutEvent(ctx, &dup); err != nil {
		t.Fatalf("PutEvent duplicate: %v", err)
	}

	got, ok, err := s.GetEvent(ctx, ev.ID)
	if err != nil || !ok {
		t.Fatalf("GetEvent = %v, %v", ok, err)
	}
	if got.Type != "meeting" || got.UserID != ev.UserID || !got.OccurredAt.Equal(at) {
		t.Errorf("event = %+v", got)
	}
	if got.Payload.Title != "Design review" || len(got.Payload.Links) != 1 || got.Target("sms") != "+15550100" {
		t.Errorf("payload = %+v", got.Payload)
	}

	if _, ok, err := s.GetEvent(ctx, "missing-"+ulid.Make().String()); err != nil || ok {
		t.Errorf("GetEvent missing = %v, %v", ok, err)
	}
}

func TestCreateIfAbsentUnique(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	ev := seedEvent(t, s, now.Add(time.Hour))

	first := newAlert(ev, alerting.TierMid, alerting.ChannelSMS, now)
	created, err := s.CreateIfAbsent(ctx, first)
	if err != nil || !created {
		t.Fatalf("first CreateIfAbsent = %v, %v", created, err)
	}
	created, err = s.CreateIfAbsent(ctx, newAlert(ev, alerting.TierMid, alerting.ChannelSMS, now))
	if err != nil {
		t.Fatalf("second CreateIfAbsent: %v", err)
	}
	if created {
		t.Error("duplicate (event, alert type) must not be created")
	}

	got, ok, err := s.Get(ctx, first.ID)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Status != alerting.StatusPending || !got.ScheduledAt.Equal(now) || !got.ClaimedAt.IsZero() {
		t.Errorf("alert = %+v", got)
	}

	list, err := s.ListByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("ListByEvent: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListByEvent = %d, want 1", len(list))
	}
}

func TestLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	ev := seedEvent(t, s, now.Add(2*time.Minute))
	early := newAlert(ev, alerting.TierEarly, alerting.ChannelEmail, now.Add(-10*time.Minute))
	crit := newAlert(ev, alerting.TierCritical, alerting.ChannelVoice, now)
	future := newAlert(ev, "followup", alerting.ChannelEmail, now.Add(time.Hour))
	for _, al := range []*alerting.Alert{early, crit, future} {
		if _, err := s.CreateIfAbsent(ctx, al); err != nil {
			t.Fatalf("CreateIfAbsent: %v", err)
		}
	}

	due, err := s.DueAlerts(ctx, now)
	if err != nil {
		t.Fatalf("DueAlerts: %v", err)
	}
	var mine []*alerting.Alert
	for _, al := range due {
		if al.EventID == ev.ID {
			mine = append(mine, al)
		}
	}
	if len(mine) != 2 || mine[0].ID != early.ID || mine[1].ID != crit.ID {
		t.Fatalf("due for event = %v, want early then critical", mine)
	}

	if ok, err := s.Cancel(ctx, early.ID, "superseded by critical"); err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	if ok, _ := s.Cancel(ctx, early.ID, "again"); ok {
		t.Error("second Cancel must be a no-op")
	}

	if ok, err := s.Claim(ctx, crit.ID, now); err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if ok, _ := s.Claim(ctx, crit.ID, now); ok {
		t.Error("second Claim must lose")
	}

	deliveredAt := now.Add(time.Second)
	ok, err := s.Confirm(ctx, crit.ID, alerting.Outcome{Status: alerting.StatusDelivered, At: deliveredAt, ProviderRef: "CA123"})
	if err != nil || !ok {
		t.Fatalf("Confirm = %v, %v", ok, err)
	}
	if ok, _ := s.Confirm(ctx, crit.ID, alerting.Outcome{Status: alerting.StatusFailed, At: deliveredAt}); ok {
		t.Error("terminal alert must not be confirmed twice")
	}

	got, _, _ := s.Get(ctx, crit.ID)
	if got.Status != alerting.StatusDelivered || got.ProviderRef != "CA123" {
		t.Errorf("critical = %+v", got)
	}
	if !got.DeliveredAt.Equal(deliveredAt) || !got.ClaimedAt.Equal(now) {
		t.Errorf("timestamps claimed=%s delivered=%s", got.ClaimedAt, got.DeliveredAt)
	}

	got, _, _ = s.Get(ctx, early.ID)
	if got.Status != alerting.StatusCancelled || got.Detail != "superseded by critical" {
		t.Errorf("early = %q/%q", got.Status, got.Detail)
	}
}

func TestConfirmFailedAndStuck(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// far in the past so concurrent test data does not match the stuck window
	claimed := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := seedEvent(t, s, claimed)
	failed := newAlert(ev, alerting.TierMid, alerting.ChannelSMS, claimed)
	orphan := newAlert(ev, alerting.TierCritical, alerting.ChannelVoice, claimed)
	for _, al := range []*alerting.Alert{failed, orphan} {
		if _, err := s.CreateIfAbsent(ctx, al); err != nil {
			t.Fatalf("CreateIfAbsent: %v", err)
		}
		if ok, err := s.Claim(ctx, al.ID, claimed); err != nil || !ok {
			t.Fatalf("Claim = %v, %v", ok, err)
		}
	}

	before, err := s.CountStuck(ctx, claimed.Add(time.Second))
	if err != nil {
		t.Fatalf("CountStuck: %v", err)
	}

	ok, err := s.Confirm(ctx, failed.ID, alerting.Outcome{Status: alerting.StatusFailed, At: claimed, Detail: "invalid number"})
	if err != nil || !ok {
		t.Fatalf("Confirm failed = %v, %v", ok, err)
	}
	got, _, _ := s.Get(ctx, failed.ID)
	if got.Status != alerting.StatusFailed || got.Detail != "invalid number" || !got.DeliveredAt.IsZero() {
		t.Errorf("failed alert = %+v", got)
	}

	after, err := s.CountStuck(ctx, claimed.Add(time.Second))
	if err != nil {
		t.Fatalf("CountStuck: %v", err)
	}
	if before-after != 1 {
		t.Errorf("stuck before/after = %d/%d, want one fewer after confirm", before, after)
	}
}

func TestConcurrentClaim(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	ev := seedEvent(t, s, now)
	al := newAlert(ev, alerting.TierMid, alerting.ChannelSMS, now)
	if _, err := s.CreateIfAbsent(ctx, al); err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			ok, err := s.Claim(ctx, al.ID, now)
			if err != nil {
				t.Errorf("Claim: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		})
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winning claims = %d, want exactly 1", wins.Load())
	}
}
