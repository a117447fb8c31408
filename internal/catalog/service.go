// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	// Load replays journalled entries on start.
	Load(ctx context.Context) error
	AddItem(ctx context.Context, in NewEntry) (*Entry, error)
	GetItem(ctx context.Context, id uuid.UUID) (*Entry, error)
	Search(ctx context.Context, query string) ([]*Entry, error)
	List(ctx context.Context) []*Entry

	// ItemExists and GenreOf let the circulation engine resolve items.
	ItemExists(id uuid.UUID) bool
	GenreOf(id uuid.UUID) (string, bool)

	// OnAdded registers a hook run after every successful AddItem.
	OnAdded(hook ArrivalHook)
}

// ArrivalHook reacts to a newly catalogued entry.
type ArrivalHook func(ctx context.Context, e Entry) error
