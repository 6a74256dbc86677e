package domain

import "errors"

// Domain errors
var (
	// Entry errors
	ErrEnqueueFailed = errors.New("failed to enqueue user")

	// Status errors
	ErrNotInQueue      = errors.New("user is not in queue")
	ErrNoLongerWaiting = errors.New("user is no longer waiting")

	// Ticket errors
	ErrTicketNotFound = errors.New("ticket not found")
	ErrCorruptTicket  = errors.New("ticket payload is corrupt")
	ErrTicketMismatch = errors.New("ticket does not belong to this token")

	// Validation errors
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrInvalidNickname = errors.New("invalid nickname")
	ErrInvalidTicketID = errors.New("invalid ticket id")

	// Token errors
	ErrInvalidAdmissionToken = errors.New("invalid admission token")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotInQueue) ||
		errors.Is(err, ErrTicketNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidNickname) ||
		errors.Is(err, ErrInvalidTicketID)
}

// IsGoneError checks if the error means the user fell out of the queue
func IsGoneError(err error) bool {
	return errors.Is(err, ErrNoLongerWaiting)
}
