package domain

import (
	"strings"
	"time"
)

// WaitingMeta holds the per-user state stored alongside the waiting queue.
// The record carries a TTL in Redis; an absent record means the user
// abandoned the queue (or never joined).
type WaitingMeta struct {
	UserID     string    `json:"user_id"`
	Nickname   string    `json:"nickname"`
	TicketID   string    `json:"ticket_id"` // empty until promoted
	LastSeenAt time.Time `json:"last_seen_at"`
}

// IsPromoted reports whether a ticket has been issued for this user
func (m *WaitingMeta) IsPromoted() bool {
	return m.TicketID != ""
}

// IsInactive reports whether the user's last poll is older than the grace
// period. A zero grace disables the check. A zero LastSeenAt (missing or
// unparseable timestamp) is never considered inactive.
func (m *WaitingMeta) IsInactive(now time.Time, grace time.Duration) bool {
	if grace <= 0 || m.LastSeenAt.IsZero() {
		return false
	}
	return now.Sub(m.LastSeenAt) > grace
}

// Validate validates the waiting meta
func (m *WaitingMeta) Validate() error {
	if m.UserID == "" {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(m.Nickname) == "" {
		return ErrInvalidNickname
	}
	return nil
}

// Ticket is the admission ticket issued when a user is promoted.
// The JSON field names are part of the storage format: the promote
// script writes the same keys, so changing them breaks interop with
// records already in Redis.
type Ticket struct {
	TicketID string `json:"ticketId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// Validate validates the ticket
func (t *Ticket) Validate() error {
	if t.TicketID == "" {
		return ErrInvalidTicketID
	}
	if t.UserID == "" {
		return ErrInvalidUserID
	}
	return nil
}

// ServerStatus is the capacity snapshot published by the game server.
// This service only reads it.
type ServerStatus struct {
	CurrentUsers int `json:"current_users"`
	SoftCap      int `json:"soft_cap"`
	MaxCap       int `json:"max_cap"`
}

// ResolveCap picks the effective capacity: soft cap when set, max cap as
// a backstop, the configured fallback when neither is published.
func (s *ServerStatus) ResolveCap(fallback int) int {
	if s.SoftCap > 0 {
		return s.SoftCap
	}
	if s.MaxCap > 0 {
		return s.MaxCap
	}
	return fallback
}

// AvailableSlots returns how many users can still be admitted given the
// number of tickets currently outstanding. Never negative.
func (s *ServerStatus) AvailableSlots(fallbackCap, joining int) int {
	slots := s.ResolveCap(fallbackCap) - (s.CurrentUsers + joining)
	if slots < 0 {
		return 0
	}
	return slots
}
