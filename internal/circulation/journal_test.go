package circulation

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circdesk/internal/db"
	"circdesk/internal/notify"
	"circdesk/internal/policy"
	"circdesk/pkg/eventstore"
)

func TestEventStoreJournalRecordsItemHistory(t *testing.T) {
	store := eventstore.NewEventStore(db.NewTestDB(t))
	journal := NewEventStoreJournal(store)
	h := newHarness(t, WithJournal(journal))
	p1, p2 := h.patron(policy.Standard), h.patron(policy.Standard)
	x := h.item()

	h.borrow(p1, x)
	require.NoError(t, h.engine.Reserve(h.ctx, p2, x))
	_, err := h.engine.Return(h.ctx, p1, x)
	require.NoError(t, err)

	history, err := journal.History(h.ctx, x)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, EntryItemRegistered, history[0].Kind)
	assert.Equal(t, EntryBorrow, history[1].Kind)
	assert.Equal(t, EntryReserve, history[2].Kind)
	assert.Equal(t, EntryReturn, history[3].Kind)
	assert.Equal(t, p2, history[2].PatronID)

	version, err := store.GetCurrentVersion(h.ctx, x)
	require.NoError(t, err)
	it, err := h.engine.Item(x)
	require.NoError(t, err)
	assert.Equal(t, it.Version, version)
}

func TestJournalConflictKeepsEngineUnchanged(t *testing.T) {
	store := eventstore.NewEventStore(db.NewTestDB(t))
	h := newHarness(t, WithJournal(NewEventStoreJournal(store)))
	p := h.patron(policy.Standard)
	x := h.item()

	// another writer appends to the same item stream behind the engine's back
	require.NoError(t, store.AppendEvents(h.ctx, x, itemAggregate, 1, []eventstore.Event{{EventType: "Foreign", EventData: []byte(`{}`)}}))

	_, err := h.engine.Borrow(h.ctx, p, x)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, StatusAvailable, h.status(x))
	assert.Empty(t, h.engine.OpenLoans())
}

func TestStateSurvivesSnapshotStore(t *testing.T) {
	store := eventstore.NewEventStore(db.NewTestDB(t))
	h := newHarness(t)
	p1, p2 := h.patron(policy.Student), h.patron(policy.Standard)
	x, y := h.item(), h.item()
	h.borrow(p1, x)
	require.NoError(t, h.engine.Reserve(h.ctx, p2, x))
	require.NoError(t, h.engine.Reserve(h.ctx, p2, y))

	_, err := LoadState(h.ctx, store)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	state := h.engine.Snapshot()
	require.NoError(t, SaveState(h.ctx, store, state))

	loaded, err := LoadState(h.ctx, store)
	require.NoError(t, err)

	restored := newHarness(t)
	require.NoError(t, restored.engine.Restore(loaded))
	got := restored.engine.Snapshot()
	require.Len(t, got.Items, 2)
	assert.Equal(t, state.Seq, got.Seq)
	assert.Len(t, got.Entries, len(state.Entries))
	assert.Equal(t, StatusBorrowed, restored.status(x))
	assert.Equal(t, StatusReserved, restored.status(y))
	assert.Empty(t, restored.engine.Audit())
}

func TestConcurrentBorrowsOfOneItem(t *testing.T) {
	h := newHarness(t)
	x := h.item()
	patrons := make([]uuid.UUID, 20)
	for i := range patrons {
		patrons[i] = h.patron(policy.Standard)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, p := range patrons {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Borrow(h.ctx, p, x); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Len(t, h.engine.OpenLoans(), 1)
	h.noViolations()
}

func TestReplayCatchesUpAfterSnapshot(t *testing.T) {
	store := eventstore.NewEventStore(db.NewTestDB(t))
	journal := NewEventStoreJournal(store)
	h := newHarness(t, WithJournal(journal))
	p1, p2, p3 := h.patron(policy.Standard), h.patron(policy.Premium), h.patron(policy.Student)
	x, y := h.item(), h.item()
	h.borrow(p1, x)
	require.NoError(t, h.engine.Reserve(h.ctx, p2, x))

	state := h.engine.Snapshot()
	require.NoError(t, SaveState(h.ctx, store, state))

	_, err := h.engine.Return(h.ctx, p1, x)
	require.NoError(t, err)
	h.borrow(p2, x)
	require.NoError(t, h.engine.Reserve(h.ctx, p3, y))
	_, err = h.engine.SetStatus(h.ctx, y, StatusMaintenance)
	require.NoError(t, err)
	h.clock.AdvanceDays(30)
	_, err = h.engine.Return(h.ctx, p2, x)
	require.NoError(t, err)
	z := h.item()
	loan := h.borrow(p1, z)
	_, err = h.engine.Renew(h.ctx, loan.ID, 7)
	require.NoError(t, err)
	w := h.item()
	h.borrow(p3, w)
	require.NoError(t, h.engine.Reserve(h.ctx, p1, w))
	h.clock.AdvanceDays(20)
	_, err = h.engine.SetStatus(h.ctx, w, StatusLost)
	require.NoError(t, err)

	loaded, err := LoadState(h.ctx, store)
	require.NoError(t, err)
	tail, err := journal.Entries(h.ctx, loaded.Seq)
	require.NoError(t, err)

	replayed := New(h.catalog, h.directory, notify.NewDispatcher(h.clock), WithClock(h.clock), WithLogger(h.engine.logger))
	require.NoError(t, replayed.Restore(loaded))
	n, err := replayed.Replay(tail)
	require.NoError(t, err)
	assert.Equal(t, len(tail), n)

	want, got := h.engine.Snapshot(), replayed.Snapshot()
	assert.Equal(t, want.Seq, got.Seq)
	assert.Equal(t, want.Loans, got.Loans)
	require.Len(t, got.Items, len(want.Items))
	for i := range want.Items {
		assert.Equal(t, want.Items[i].ID, got.Items[i].ID)
		assert.Equal(t, want.Items[i].Status, got.Items[i].Status)
		assert.Equal(t, want.Items[i].Version, got.Items[i].Version)
		assert.Equal(t, want.Items[i].BorrowCount, got.Items[i].BorrowCount)
		assert.Equal(t, want.Items[i].Hold, got.Items[i].Hold)
		assert.ElementsMatch(t, want.Items[i].Queue, got.Items[i].Queue)
	}
	for _, p := range []uuid.UUID{p1, p2, p3} {
		a, err := h.engine.Account(p)
		require.NoError(t, err)
		b, err := replayed.Account(p)
		require.NoError(t, err)
		assert.Equal(t, a.Balance, b.Balance)
		assert.Equal(t, a.TotalBorrowed, b.TotalBorrowed)
		assert.Len(t, b.ActiveLoans, len(a.ActiveLoans))
		assert.Len(t, b.Reservations, len(a.Reservations))
	}
	assert.Empty(t, replayed.Audit())

	again, err := replayed.Replay(tail)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestReplayRejectsGaps(t *testing.T) {
	h := newHarness(t)
	x := h.item()
	entries := h.engine.Ledger()
	require.Len(t, entries, 1)

	fresh := newHarness(t)
	gap := entries[0]
	gap.Seq = 3
	_, err := fresh.engine.Replay([]LedgerEntry{gap})
	assert.ErrorIs(t, err, ErrCorruptState)

	n, err := fresh.engine.Replay(entries)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusAvailable, fresh.status(x))
}
