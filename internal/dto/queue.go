package dto

// EntryRequest represents a request to join the waiting queue
type EntryRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

// EntryResponse is returned after a user is placed in the waiting queue
type EntryResponse struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
	Rank   int64  `json:"rank"`
}

// StatusResponse reports where a user stands. Rank is zero-based and
// always serialized while waiting, since 0 means head of the queue;
// TicketID and AdmissionToken appear once promoted.
type StatusResponse struct {
	Status         string `json:"status"`
	Rank           int64  `json:"rank"`
	TotalWaiting   int64  `json:"total_waiting,omitempty"`
	TicketID       string `json:"ticket_id,omitempty"`
	AdmissionToken string `json:"admission_token,omitempty"`
}

// TicketResponse is the admission ticket payload
type TicketResponse struct {
	TicketID string `json:"ticket_id"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// Queue status values
const (
	QueueStatusWaiting  = "waiting"
	QueueStatusPromoted = "promoted"
)
