package alerting

import "time"

// Status tracks where an alert is in its lifecycle. Transitions are one-way:
// pending -> {sending, cancelled}, sending -> {delivered, failed}.
type Status string

const (
	// StatusPending means scheduled, waiting for its time to arrive
	StatusPending Status = "pending"

	// StatusSending means claimed by a delivery attempt, awaiting the channel outcome
	StatusSending Status = "sending"

	// StatusDelivered means the channel accepted the message
	StatusDelivered Status = "delivered"

	// StatusCancelled means superseded by a more urgent tier or channel disabled
	StatusCancelled Status = "cancelled"

	// StatusFailed means the channel rejected or never confirmed the message
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// Channel kinds.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelVoice = "voice"
)

// AlertSpec is a rule output: one reminder to create for an event. Not persisted.
type AlertSpec struct {
	AlertType string
	Channel   string
	Offset    time.Duration // subtracted from the event time to get the trigger time
}

// Alert is the mutable unit of work, one per (event, alert type).
type Alert struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	EventID     string    `json:"event_id"`
	Category    string    `json:"category"`
	AlertType   string    `json:"alert_type"`
	Channel     string    `json:"channel"`
	Status      Status    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ClaimedAt   time.Time `json:"claimed_at,omitzero"`
	DeliveredAt time.Time `json:"delivered_at,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Outcome is the committed result of a claimed delivery.
type Outcome struct {
	Status      Status // StatusDelivered or StatusFailed
	At          time.Time
	ProviderRef string
	Detail      string
}
