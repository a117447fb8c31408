package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"circdesk/internal/circulation"
)

// Engine is the read side of the circulation engine the probes inspect.
type Engine interface {
	Audit() []circulation.Violation
	OpenLoans() []circulation.Loan
	Ledger() []circulation.LedgerEntry
	BorrowCounts() map[uuid.UUID]int
	Item(itemID uuid.UUID) (circulation.Item, error)
}

// VersionSource reports how far an aggregate's journal has advanced.
// *eventstore.EventStore satisfies it.
type VersionSource interface {
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
}

// EngineProbes returns the steady-state probes for a circulation engine.
func EngineProbes(e Engine) []Probe {
	return []Probe{
		{
			Name: "invariant_violations",
			Query: func(ctx context.Context) (float64, error) {
				return float64(len(e.Audit())), nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name: "double_loaned_items",
			Query: func(ctx context.Context) (float64, error) {
				seen := make(map[uuid.UUID]int)
				doubled := 0
				for _, l := range e.OpenLoans() {
					seen[l.ItemID]++
					if seen[l.ItemID] == 2 {
						doubled++
					}
				}
				return float64(doubled), nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name: "ledger_sequence_gaps",
			Query: func(ctx context.Context) (float64, error) {
				gaps := 0
				entries := e.Ledger()
				for i := 1; i < len(entries); i++ {
					if entries[i].Seq != entries[i-1].Seq+1 {
						gaps++
					}
				}
				return float64(gaps), nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

// JournalDriftProbe counts items whose in-memory version differs from the
// journalled stream version. The item is read on both sides of the journal
// read, so a commit landing in between is not counted.
func JournalDriftProbe(e Engine, src VersionSource) Probe {
	return Probe{
		Name: "journal_drift_items",
		Query: func(ctx context.Context) (float64, error) {
			drift := 0
			for id := range e.BorrowCounts() {
				before, err := e.Item(id)
				if err != nil {
					continue
				}
				v, err := src.GetCurrentVersion(ctx, id)
				if err != nil {
					return 0, fmt.Errorf("failed to read journal version of item %s: %w", id, err)
				}
				if v == before.Version {
					continue
				}
				after, err := e.Item(id)
				if err != nil || v != after.Version {
					drift++
				}
			}
			return float64(drift), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}
