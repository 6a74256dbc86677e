package domain

import "time"

// QueueEventType identifies a ticket lifecycle event
type QueueEventType string

const (
	QueueEventTicketIssued  QueueEventType = "ticket.issued"
	QueueEventTicketExpired QueueEventType = "ticket.expired"
)

// QueueEvent is the payload published to the events topic when a ticket
// is issued or reaped.
type QueueEvent struct {
	EventID    string         `json:"event_id"`
	Type       QueueEventType `json:"type"`
	TicketID   string         `json:"ticket_id"`
	UserID     string         `json:"user_id,omitempty"`
	Nickname   string         `json:"nickname,omitempty"`
	ExpireAt   time.Time      `json:"expire_at,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewQueueEvent creates a queue event with the given id
func NewQueueEvent(eventType QueueEventType, eventID string) *QueueEvent {
	return &QueueEvent{
		EventID:    eventID,
		Type:       eventType,
		OccurredAt: time.Now(),
	}
}

// Key returns the partition key. Events for the same ticket stay ordered.
func (e *QueueEvent) Key() string {
	return e.TicketID
}
