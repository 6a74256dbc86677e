package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerStatus_ResolveCap(t *testing.T) {
	tests := []struct {
		name     string
		status   ServerStatus
		fallback int
		want     int
	}{
		{"soft cap wins", ServerStatus{SoftCap: 100, MaxCap: 500}, 1000, 100},
		{"max cap when soft cap unset", ServerStatus{SoftCap: 0, MaxCap: 500}, 1000, 500},
		{"fallback when nothing published", ServerStatus{}, 1000, 1000},
		{"negative soft cap ignored", ServerStatus{SoftCap: -1, MaxCap: 500}, 1000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.ResolveCap(tt.fallback))
		})
	}
}

func TestServerStatus_AvailableSlots(t *testing.T) {
	s := ServerStatus{SoftCap: 10, CurrentUsers: 4}

	assert.Equal(t, 3, s.AvailableSlots(1000, 3))
	assert.Equal(t, 0, s.AvailableSlots(1000, 6), "full house leaves zero slots")
	assert.Equal(t, 0, s.AvailableSlots(1000, 20), "oversubscribed clamps to zero")
}

func TestWaitingMeta_IsInactive(t *testing.T) {
	now := time.Now()

	m := &WaitingMeta{UserID: "u1", Nickname: "alice", LastSeenAt: now.Add(-45 * time.Second)}
	assert.True(t, m.IsInactive(now, 30*time.Second))
	assert.False(t, m.IsInactive(now, 60*time.Second))
	assert.False(t, m.IsInactive(now, 0), "zero grace disables the check")

	unknown := &WaitingMeta{UserID: "u2", Nickname: "bob"}
	assert.False(t, unknown.IsInactive(now, 30*time.Second), "missing last-seen is never inactive")
}

func TestWaitingMeta_IsPromoted(t *testing.T) {
	m := &WaitingMeta{UserID: "u1", Nickname: "alice"}
	assert.False(t, m.IsPromoted())

	m.TicketID = "t-123"
	assert.True(t, m.IsPromoted())
}

func TestWaitingMeta_Validate(t *testing.T) {
	m := &WaitingMeta{UserID: "u1", Nickname: "alice"}
	assert.NoError(t, m.Validate())

	assert.ErrorIs(t, (&WaitingMeta{Nickname: "alice"}).Validate(), ErrInvalidUserID)
	assert.ErrorIs(t, (&WaitingMeta{UserID: "u1"}).Validate(), ErrInvalidNickname)
	assert.ErrorIs(t, (&WaitingMeta{UserID: "u1", Nickname: "   "}).Validate(), ErrInvalidNickname)
}

func TestTicket_Validate(t *testing.T) {
	tk := &Ticket{TicketID: "t1", UserID: "u1", Nickname: "alice"}
	assert.NoError(t, tk.Validate())

	assert.ErrorIs(t, (&Ticket{UserID: "u1"}).Validate(), ErrInvalidTicketID)
	assert.ErrorIs(t, (&Ticket{TicketID: "t1"}).Validate(), ErrInvalidUserID)
}
