package circulation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"circdesk/internal/clock"
	"circdesk/internal/notify"
	"circdesk/internal/policy"
)

var day0 = time.Date(2024, time.May, 1, 10, 30, 0, 0, time.UTC)

type fakeCatalog struct {
	mu     sync.Mutex
	genres map[uuid.UUID]string
}

func (c *fakeCatalog) ItemExists(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.genres[id]
	return ok
}

func (c *fakeCatalog) GenreOf(id uuid.UUID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.genres[id]
	return g, ok
}

type fakeDirectory struct {
	mu       sync.Mutex
	classes  map[uuid.UUID]policy.Class
	inactive map[uuid.UUID]bool
}

func (d *fakeDirectory) AccountClass(id uuid.UUID) (policy.Class, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.classes[id]
	return c, ok
}

func (d *fakeDirectory) IsActive(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.classes[id]
	return ok && !d.inactive[id]
}

type failingJournal struct{ fail bool }

var errJournalDown = errors.New("journal down")

func (j *failingJournal) Append(context.Context, []LedgerEntry) error {
	if j.fail {
		return errJournalDown
	}
	return nil
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	clock      *clock.Fixed
	catalog    *fakeCatalog
	directory  *fakeDirectory
	dispatcher *notify.Dispatcher
	engine     *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := clock.NewFixed(day0)
	h := &harness{
		t:          t,
		ctx:        context.Background(),
		clock:      clk,
		catalog:    &fakeCatalog{genres: make(map[uuid.UUID]string)},
		directory:  &fakeDirectory{classes: make(map[uuid.UUID]policy.Class), inactive: make(map[uuid.UUID]bool)},
		dispatcher: notify.NewDispatcher(clk),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clk), WithLogger(logger)}, opts...)
	h.engine = New(h.catalog, h.directory, h.dispatcher, opts...)
	return h
}

func (h *harness) patron(class policy.Class) uuid.UUID {
	id := uuid.New()
	h.directory.mu.Lock()
	h.directory.classes[id] = class
	h.directory.mu.Unlock()
	return id
}

func (h *harness) item() uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	h.catalog.mu.Lock()
	h.catalog.genres[id] = "fiction"
	h.catalog.mu.Unlock()
	_, err := h.engine.RegisterItem(h.ctx, id)
	require.NoError(h.t, err)
	return id
}

func (h *harness) borrow(patronID, itemID uuid.UUID) Loan {
	h.t.Helper()
	loan, err := h.engine.Borrow(h.ctx, patronID, itemID)
	require.NoError(h.t, err)
	return loan
}

func (h *harness) status(itemID uuid.UUID) ItemStatus {
	h.t.Helper()
	it, err := h.engine.Item(itemID)
	require.NoError(h.t, err)
	return it.Status
}

func (h *harness) noViolations() {
	h.t.Helper()
	require.Empty(h.t, h.engine.Audit())
}

func (h *harness) notices(patronID uuid.UUID, kind notify.Kind) []notify.Notification {
	var out []notify.Notification
	for _, n := range h.dispatcher.AllFor(patronID) {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
