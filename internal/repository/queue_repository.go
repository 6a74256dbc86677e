package repository

import (
	"context"
	"time"

	"waitroom/internal/domain"
)

// QueueRepository defines the entry/status side of the waiting queue
type QueueRepository interface {
	// AddToWaiting places a user at the tail of the waiting queue.
	// Returns false when the user is already queued.
	AddToWaiting(ctx context.Context, userID string, enqueuedAt time.Time) (bool, error)

	// UpsertWaitingMeta writes the user's meta record with the given TTL
	UpsertWaitingMeta(ctx context.Context, meta *domain.WaitingMeta, ttl time.Duration) error

	// FindWaitingMeta returns the user's meta record, or nil when absent
	FindWaitingMeta(ctx context.Context, userID string) (*domain.WaitingMeta, error)

	// TouchWaitingMeta refreshes last-seen and the record TTL
	TouchWaitingMeta(ctx context.Context, userID string, seenAt time.Time, ttl time.Duration) error

	// GetWaitingRank returns the user's 0-based rank; false when not waiting
	GetWaitingRank(ctx context.Context, userID string) (int64, bool, error)

	// GetWaitingSize returns the number of users in the waiting queue
	GetWaitingSize(ctx context.Context) (int64, error)

	// FindTicket returns the ticket payload for an issued ticket
	FindTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// PromoteParams contains parameters for promoting a waiting user
type PromoteParams struct {
	UserID   string
	TicketID string
	ExpireAt time.Time
	TTL      time.Duration
}

// AdmissionRepository defines the scheduler side of the waiting queue
type AdmissionRepository interface {
	// FetchNextBatch returns up to n user ids from the head of the queue,
	// in arrival order, without removing them
	FetchNextBatch(ctx context.Context, n int) ([]string, error)

	// WaitingSize returns the number of users in the waiting queue
	WaitingSize(ctx context.Context) (int64, error)

	// FetchWaitingMeta returns a candidate's meta record, or nil when absent
	FetchWaitingMeta(ctx context.Context, userID string) (*domain.WaitingMeta, error)

	// RemoveFromWaiting evicts a user from the waiting queue
	RemoveFromWaiting(ctx context.Context, userID string) error

	// DeleteWaitingMeta removes a user's meta record
	DeleteWaitingMeta(ctx context.Context, userID string) error

	// FetchServerStatus reads the capacity snapshot published by the game server
	FetchServerStatus(ctx context.Context) (*domain.ServerStatus, error)

	// CountJoiningTickets counts tickets that are still live at the given time
	CountJoiningTickets(ctx context.Context, now time.Time) (int64, error)

	// RemoveExpiredTickets drops tickets whose expiry passed and returns their ids
	RemoveExpiredTickets(ctx context.Context, now time.Time) ([]string, error)

	// DeleteTickets removes ticket payload records, best effort
	DeleteTickets(ctx context.Context, ticketIDs []string) error

	// Promote atomically moves a user from waiting to joining. Returns
	// false when the user was no longer promotable (already gone, meta
	// expired, or blank nickname); state is cleaned up in the same call.
	Promote(ctx context.Context, params PromoteParams) (bool, error)
}
