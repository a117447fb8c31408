// internal/circulation/journal.go
package circulation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"circdesk/pkg/eventstore"
)

const (
	itemAggregate   = "item"
	engineAggregate = "circulation_engine"
)

// engineStateID is the fixed aggregate id the engine snapshot is stored under.
var engineStateID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("circdesk:circulation-engine"))

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventStoreJournal writes ledger entries as item events. The item version
// doubles as the expected aggregate version, so two engines sharing a store
// cannot both write the same item history.
type EventStoreJournal struct {
	store *eventstore.EventStore
}

func NewEventStoreJournal(store *eventstore.EventStore) *EventStoreJournal {
	return &EventStoreJournal{store: store}
}

func (j *EventStoreJournal) Append(ctx context.Context, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	itemID := entries[0].ItemID
	events := make([]eventstore.Event, 0, len(entries))
	for _, entry := range entries {
		if entry.ItemID != itemID {
			return fmt.Errorf("journal batch spans items %s and %s", itemID, entry.ItemID)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode ledger entry %d: %w", entry.Seq, err)
		}
		events = append(events, eventstore.Event{
			EventType: entry.Kind.EventType(),
			EventData: data,
			Metadata: map[string]interface{}{
				"seq":       entry.Seq,
				"patron_id": entry.PatronID.String(),
			},
		})
	}
	return j.store.AppendEvents(ctx, itemID, itemAggregate, entries[0].ItemVersion-1, events)
}

// History replays the journalled entries of one item.
func (j *EventStoreJournal) History(ctx context.Context, itemID uuid.UUID) ([]LedgerEntry, error) {
	events, err := j.store.LoadEvents(ctx, itemID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load item history: %w", err)
	}
	out := make([]LedgerEntry, 0, len(events))
	for _, ev := range events {
		var entry LedgerEntry
		if err := json.Unmarshal(ev.EventData, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode %s event %d: %w", ev.EventType, ev.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Entries reads every journalled entry with a sequence above afterSeq, in
// sequence order.
func (j *EventStoreJournal) Entries(ctx context.Context, afterSeq int64) ([]LedgerEntry, error) {
	const batch = 500
	var (
		out    []LedgerEntry
		cursor int64
	)
	for {
		events, err := j.store.StreamEvents(ctx, cursor, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to stream journal: %w", err)
		}
		for _, ev := range events {
			cursor = ev.ID
			if ev.AggregateType != itemAggregate {
				continue
			}
			var entry LedgerEntry
			if err := json.Unmarshal(ev.EventData, &entry); err != nil {
				return nil, fmt.Errorf("failed to decode %s event %d: %w", ev.EventType, ev.ID, err)
			}
			if entry.Seq > afterSeq {
				out = append(out, entry)
			}
		}
		if len(events) < batch {
			break
		}
	}
	slices.SortFunc(out, func(a, b LedgerEntry) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

// ErrNoSnapshot is returned by LoadState when nothing was saved yet.
var ErrNoSnapshot = errors.New("no circulation snapshot")

// SaveState stores s as the engine snapshot, versioned by its ledger sequence.
func SaveState(ctx context.Context, store *eventstore.EventStore, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode circulation state: %w", err)
	}
	return store.SaveSnapshot(ctx, eventstore.Snapshot{
		AggregateID:   engineStateID,
		AggregateType: engineAggregate,
		Version:       int(s.Seq),
		State:         data,
	})
}

// LoadState reads the latest engine snapshot.
func LoadState(ctx context.Context, store *eventstore.EventStore) (State, error) {
	snap, err := store.LoadSnapshot(ctx, engineStateID)
	if err != nil {
		return State{}, err
	}
	if snap == nil {
		return State{}, ErrNoSnapshot
	}
	var s State
	if err := json.Unmarshal(snap.State, &s); err != nil {
		return State{}, fmt.Errorf("failed to decode circulation state: %w", err)
	}
	return s, nil
}
