package alerting

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func pending(id, eventID, alertType string, scheduled time.Time) *Alert {
	return &Alert{
		ID:          id,
		EventID:     eventID,
		AlertType:   alertType,
		Status:      StatusPending,
		ScheduledAt: scheduled,
		CreatedAt:   t0.Add(-time.Hour),
	}
}

func ids(as []*Alert) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

func TestCollapse_DeliversMostUrgentPerEvent(t *testing.T) {
	t.Parallel()

	due := []*Alert{
		pending("a-early", "ev-1", TierEarly, t0.Add(-10*time.Minute)),
		pending("a-mid", "ev-1", TierMid, t0.Add(-3*time.Minute)),
		pending("a-crit", "ev-1", TierCritical, t0),
		pending("b-early", "ev-2", TierEarly, t0.Add(-time.Minute)),
	}

	d := Collapse(due, t0)

	if got := ids(d.Deliver); len(got) != 2 || got[0] != "a-crit" || got[1] != "b-early" {
		t.Fatalf("Deliver = %v, want [a-crit b-early]", got)
	}
	if len(d.Cancel) != 2 {
		t.Fatalf("len(Cancel) = %d, want 2", len(d.Cancel))
	}
	for _, c := range d.Cancel {
		if c.SupersededBy.ID != "a-crit" {
			t.Errorf("%s superseded by %s, want a-crit", c.Alert.ID, c.SupersededBy.ID)
		}
		if c.Alert.ID == "a-crit" {
			t.Error("most urgent alert must never be cancelled")
		}
	}
}

func TestCollapse_SkipsNotDueAndNotPending(t *testing.T) {
	t.Parallel()

	future := pending("f", "ev-1", TierCritical, t0.Add(time.Minute))
	sent := pending("s", "ev-1", TierMid, t0.Add(-time.Minute))
	sent.Status = StatusSending
	early := pending("e", "ev-1", TierEarly, t0.Add(-5*time.Minute))

	d := Collapse([]*Alert{future, sent, early, nil}, t0)

	if got := ids(d.Deliver); len(got) != 1 || got[0] != "e" {
		t.Errorf("Deliver = %v, want [e]", got)
	}
	if len(d.Cancel) != 0 {
		t.Errorf("Cancel = %d, want 0", len(d.Cancel))
	}
}

func TestCollapse_TieBreaks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b *Alert
		want string
	}{
		{
			name: "later created wins",
			a:    &Alert{ID: "1", EventID: "ev", Status: StatusPending, ScheduledAt: t0, CreatedAt: t0.Add(-2 * time.Minute)},
			b:    &Alert{ID: "2", EventID: "ev", Status: StatusPending, ScheduledAt: t0, CreatedAt: t0.Add(-time.Minute)},
			want: "2",
		},
		{
			name: "larger id wins",
			a:    &Alert{ID: "01B", EventID: "ev", Status: StatusPending, ScheduledAt: t0, CreatedAt: t0},
			b:    &Alert{ID: "01A", EventID: "ev", Status: StatusPending, ScheduledAt: t0, CreatedAt: t0},
			want: "01B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, order := range [][]*Alert{{tt.a, tt.b}, {tt.b, tt.a}} {
				d := Collapse(order, t0)
				if len(d.Deliver) != 1 || d.Deliver[0].ID != tt.want {
					t.Errorf("Deliver = %v, want [%s]", ids(d.Deliver), tt.want)
				}
				if len(d.Cancel) != 1 {
					t.Errorf("Cancel = %d, want 1", len(d.Cancel))
				}
			}
		})
	}
}

func TestCollapse_Empty(t *testing.T) {
	t.Parallel()

	d := Collapse(nil, t0)
	if len(d.Deliver) != 0 || len(d.Cancel) != 0 {
		t.Errorf("Collapse(nil) = %+v, want empty", d)
	}
}

func FuzzCollapse(f *testing.F) {
	f.Add(uint8(3), int64(600), int64(60))
	f.Add(uint8(1), int64(0), int64(0))
	f.Add(uint8(9), int64(-30), int64(1))

	f.Fuzz(func(t *testing.T, n uint8, start, step int64) {
		var due []*Alert
		for i := range int(n % 16) {
			due = append(due, &Alert{
				ID:          string(rune('a' + i)),
				EventID:     []string{"ev-1", "ev-2"}[i%2],
				Status:      StatusPending,
				ScheduledAt: t0.Add(-time.Duration(start+int64(i)*step) * time.Second),
				CreatedAt:   t0,
			})
		}

		d := Collapse(due, t0)

		delivered := make(map[string]string)
		for _, al := range d.Deliver {
			if _, dup := delivered[al.EventID]; dup {
				t.Fatalf("two deliveries for %s", al.EventID)
			}
			delivered[al.EventID] = al.ID
		}
		for _, c := range d.Cancel {
			if c.Alert.ID == delivered[c.Alert.EventID] {
				t.Fatalf("alert %s both delivered and cancelled", c.Alert.ID)
			}
			if moreUrgent(c.Alert, c.SupersededBy) {
				t.Fatalf("cancelled %s outranks its superseder %s", c.Alert.ID, c.SupersededBy.ID)
			}
		}
	})
}
