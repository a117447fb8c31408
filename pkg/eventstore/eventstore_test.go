package eventstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circdesk/internal/db"
)

type testEvent struct {
	Message string `json:"message"`
}

func newEvent(t testing.TB, msg string) Event {
	t.Helper()
	data, err := json.Marshal(testEvent{Message: msg})
	require.NoError(t, err)
	return Event{EventType: "TestEvent", EventData: data, Metadata: map[string]interface{}{"source": "test"}}
}

func TestAppendAndLoad(t *testing.T) {
	store := NewEventStore(db.NewTestDB(t))
	ctx := context.Background()
	id := uuid.New()

	// setup
	require.NoError(t, store.AppendEvents(ctx, id, "item", 0, []Event{newEvent(t, "one"), newEvent(t, "two")}))
	require.NoError(t, store.AppendEvents(ctx, id, "item", 2, []Event{newEvent(t, "three")}))

	// act
	events, err := store.LoadEvents(ctx, id, 0, 0)

	// assert
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Version)
		assert.Equal(t, id, ev.AggregateID)
		assert.Equal(t, "item", ev.AggregateType)
		assert.Equal(t, "test", ev.Metadata["source"])
		assert.False(t, ev.CreatedAt.IsZero())
	}
	var last testEvent
	require.NoError(t, json.Unmarshal(events[2].EventData, &last))
	assert.Equal(t, "three", last.Message)

	version, err := store.GetCurrentVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestLoadEventsRange(t *testing.T) {
	store := NewEventStore(db.NewTestDB(t))
	ctx := context.Background()
	id := uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEvents(ctx, id, "item", i, []Event{newEvent(t, fmt.Sprint(i))}))
	}

	events, err := store.LoadEvents(ctx, id, 2, 4)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Version)
	assert.Equal(t, 4, events[2].Version)
}

func TestAppendDetectsVersionConflict(t *testing.T) {
	store := NewEventStore(db.NewTestDB(t))
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.AppendEvents(ctx, id, "item", 0, []Event{newEvent(t, "first")}))

	err := store.AppendEvents(ctx, id, "item", 0, []Event{newEvent(t, "stale")})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	events, err := store.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendRejectsNegativeVersion(t *testing.T) {
	store := NewEventStore(db.NewTestDB(t))
	err := store.AppendEvents(context.Background(), uuid.New(), "item", -1, []Event{newEvent(t, "x")})
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestGetCurrentVersionOfUnknownAggregate(t *testing.T) {
	store := NewEventStore(db.NewTestDB(t))
	version, err := store.GetCurrentVersion(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestStreamEventsAcrossAggregates(t *testing.T) {
	store := NewEventStore(db.NewTestDB(t))
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, store.AppendEvents(ctx, a, "item", 0, []Event{newEvent(t, "a1")}))
	require.NoError(t, store.AppendEvents(ctx, b, "item", 0, []Event{newEvent(t, "b1"), newEvent(t, "b2")}))

	first, err := store.StreamEvents(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, a, first[0].AggregateID)

	rest, err := store.StreamEvents(ctx, first[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 2, rest[0].Version)
}

func TestSnapshotsNeverGoBackwards(t *testing.T) {
	store := NewEventStore(db.NewTestDB(t))
	ctx := context.Background()
	id := uuid.New()

	snap, err := store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{AggregateID: id, AggregateType: "engine", Version: 2, State: []byte(`{"v":2}`)}))
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{AggregateID: id, AggregateType: "engine", Version: 1, State: []byte(`{"v":1}`)}))

	snap, err = store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Version)
	assert.JSONEq(t, `{"v":2}`, string(snap.State))

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{AggregateID: id, AggregateType: "engine", Version: 3, State: []byte(`{"v":3}`)}))
	snap, err = store.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Version)
}
