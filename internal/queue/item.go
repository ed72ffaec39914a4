package queue

import "github.com/notifyhub/dispatch/internal/domain"

// Item is the minimal data placed on the queue. Workers fetch the full
// Notification from the DB using the ID, keeping the queue lightweight and
// the domain data authoritative.
//
// Leased marks items whose SENDING lease was already taken by the retry
// sweeper; the delivery path must not try to lease them again.
type Item struct {
	NotificationID string
	Channel        domain.Channel
	Priority       domain.Priority
	Leased         bool
}
