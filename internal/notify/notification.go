// internal/notify/notification.go
package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification.
type Kind string

const (
	DueSoon          Kind = "due_soon"
	Overdue          Kind = "overdue"
	ReservationReady Kind = "reservation_ready"
	NewArrival       Kind = "new_arrival"
	Announcement     Kind = "announcement"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Notification is one message queued for a patron. Delivery is somebody else's job.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	PatronID  uuid.UUID `json:"patron_id"`
	Kind      Kind      `json:"kind"`
	ItemID    uuid.UUID `json:"item_id,omitempty"`
	LoanID    uuid.UUID `json:"loan_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// GenreIndex finds the patrons that declared a favourite genre.
type GenreIndex interface {
	PatronsFavoring(genre string) []uuid.UUID
}
