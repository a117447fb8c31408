package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"circdesk/internal/catalog"
	"circdesk/internal/circulation"
	"circdesk/internal/notify"
)

// ConnectArrivals makes every newly catalogued entry circulate and tells the
// patrons who favour its genre.
func ConnectArrivals(cat catalog.Service, engine circulation.Service, d *notify.Dispatcher, logger *slog.Logger) {
	cat.OnAdded(func(ctx context.Context, e catalog.Entry) error {
		if _, err := engine.RegisterItem(ctx, e.ID); err != nil && !errors.Is(err, circulation.ErrItemExists) {
			return fmt.Errorf("failed to register item %s for circulation: %w", e.ID, err)
		}
		n := d.OnArrival(e.ID, e.Title, e.Genre)
		logger.Info("new arrival announced", "item_id", e.ID, "genre", e.Genre, "patrons", n)
		return nil
	})
}

// Reconcile registers catalogue entries the engine does not track yet, for
// example after a crash between the catalog append and the engine append.
// It returns how many were registered.
func Reconcile(ctx context.Context, cat catalog.Service, engine circulation.Service) (int, error) {
	registered := 0
	for _, e := range cat.List(ctx) {
		if _, err := engine.Item(e.ID); err == nil {
			continue
		} else if !circulation.IsNotFound(err) {
			return registered, err
		}
		if _, err := engine.RegisterItem(ctx, e.ID); err != nil {
			return registered, fmt.Errorf("failed to register item %s: %w", e.ID, err)
		}
		registered++
	}
	return registered, nil
}
