package repository

import "fmt"

// Redis key layout. Fixed: the game server and any other queue manager
// instance read the same keys.
const (
	waitingKey      = "queue:waiting"
	joiningKey      = "queue:joining"
	serverStatusKey = "server:status"
)

func waitingMetaKey(userID string) string {
	return fmt.Sprintf("queue:waiting:meta:%s", userID)
}

func ticketKey(ticketID string) string {
	return fmt.Sprintf("queue:joining:ticket:%s", ticketID)
}
