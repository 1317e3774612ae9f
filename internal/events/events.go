package events

import "context"

// Streams
const (
	StreamPayout   = "events:payout"
	StreamSchedule = "events:schedule"
)

// Event types
const (
	EventWithdrawalApproved    = "withdrawal_approved"
	EventPayoutItemPaid        = "payout_item_paid"
	EventPayoutItemFailed      = "payout_item_failed"
	EventPayoutBatchCompleted  = "payout_batch_completed"
	EventPayoutBatchAborted    = "payout_batch_aborted"
	EventPayoutScheduleChanged = "payout_schedule_changed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Nop drops every event. Used where no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
