package alerting

import (
	"sort"
	"time"
)

// Cancellation is a stale alert to cancel and the alert that supersedes it.
type Cancellation struct {
	Alert        *Alert
	SupersededBy *Alert
}

// Decision partitions one tick's due alerts.
type Decision struct {
	Deliver []*Alert
	Cancel  []Cancellation
}

// Collapse partitions due pending alerts so that a burst of overdue reminders for
// one event sends only the most urgent one. Within an event, urgency is the
// latest ScheduledAt (smallest offset); equal ScheduledAt ranks the earlier
// created alert as less urgent. The most urgent due alert is always delivered,
// every other due alert of that event is cancelled. Alerts that are not pending
// or not yet due at now are left out of both sets.
func Collapse(due []*Alert, now time.Time) Decision {
	groups := make(map[string][]*Alert)
	var order []string
	for _, al := range due {
		if al == nil || al.Status != StatusPending || al.ScheduledAt.After(now) {
			continue
		}
		if _, ok := groups[al.EventID]; !ok {
			order = append(order, al.EventID)
		}
		groups[al.EventID] = append(groups[al.EventID], al)
	}

	var d Decision
	for _, eventID := range order {
		g := groups[eventID]
		sort.SliceStable(g, func(i, j int) bool {
			return moreUrgent(g[i], g[j])
		})
		top := g[0]
		d.Deliver = append(d.Deliver, top)
		for _, stale := range g[1:] {
			d.Cancel = append(d.Cancel, Cancellation{Alert: stale, SupersededBy: top})
		}
	}
	return d
}

// moreUrgent reports whether a ranks strictly above b.
func moreUrgent(a, b *Alert) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.After(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
