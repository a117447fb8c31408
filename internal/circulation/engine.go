// internal/circulation/engine.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"circdesk/internal/clock"
	"circdesk/internal/policy"
	"circdesk/internal/telemetry"
)

// Engine is the single owner of all circulation state. One mutex serializes
// every operation, so each one is atomic with respect to the others.
type Engine struct {
	mu sync.Mutex

	clock     clock.Clock
	policy    policy.Policy
	catalog   Catalog
	directory Directory
	notifier  Notifier
	journal   Journal
	logger    *slog.Logger
	tracer    trace.Tracer

	items      map[uuid.UUID]*Item
	loans      map[uuid.UUID]*Loan
	loanOrder  []uuid.UUID
	openByItem map[uuid.UUID]uuid.UUID
	accounts   map[uuid.UUID]*PatronAccount
	entries    []LedgerEntry
	seq        int64
}

var _ Service = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithPolicy(p policy.Policy) Option { return func(e *Engine) { e.policy = p } }

// WithJournal makes the engine append every ledger entry to j before applying it.
func WithJournal(j Journal) Option { return func(e *Engine) { e.journal = j } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an empty engine.
func New(catalog Catalog, directory Directory, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		clock:      clock.System{},
		policy:     policy.Default(),
		catalog:    catalog,
		directory:  directory,
		notifier:   notifier,
		journal:    nopJournal{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("circdesk/circulation"),
		items:      make(map[uuid.UUID]*Item),
		loans:      make(map[uuid.UUID]*Loan),
		openByItem: make(map[uuid.UUID]uuid.UUID),
		accounts:   make(map[uuid.UUID]*PatronAccount),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the lending rules in force.
func (e *Engine) Policy() policy.Policy { return e.policy }

func (e *Engine) startSpan(ctx context.Context, op string, patronID, itemID uuid.UUID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("circulation.op", op)}
	if patronID != uuid.Nil {
		attrs = append(attrs, attribute.String("patron.id", patronID.String()))
	}
	if itemID != uuid.Nil {
		attrs = append(attrs, attribute.String("item.id", itemID.String()))
	}
	return e.tracer.Start(ctx, "circulation."+op, trace.WithAttributes(attrs...))
}

// finish records the outcome of op on the span, the request counter and the log.
func (e *Engine) finish(span trace.Span, op string, err error) {
	defer span.End()
	outcome := "ok"
	switch {
	case err == nil:
	case IsValidation(err):
		outcome = "validation"
	case IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	telemetry.CirculationRequests.WithLabelValues(op, outcome).Inc()
	if err != nil {
		e.logger.Debug("circulation request refused", "op", op, "outcome", outcome, "error", err)
	}
}

// patron resolves an active patron and their account class.
func (e *Engine) patron(patronID uuid.UUID) (policy.Class, error) {
	class, ok := e.directory.AccountClass(patronID)
	if !ok {
		return "", ErrUnknownPatron
	}
	if !e.directory.IsActive(patronID) {
		return "", ErrInactiveAccount
	}
	return class, nil
}

// account returns the patron's account, creating it on first use.
func (e *Engine) account(patronID uuid.UUID, class policy.Class) *PatronAccount {
	acct, ok := e.accounts[patronID]
	if !ok {
		acct = newAccount(patronID, class)
		e.accounts[patronID] = acct
	}
	if class != "" {
		acct.Class = class
	}
	return acct
}

// openLoanCount reads the patron's open loans without creating an account.
func (e *Engine) openLoanCount(patronID uuid.UUID) int {
	if acct, ok := e.accounts[patronID]; ok {
		return len(acct.ActiveLoans)
	}
	return 0
}

// commit journals entries for item, then stamps them into the in-memory ledger.
// Nothing is written when the journal refuses.
func (e *Engine) commit(ctx context.Context, item *Item, entries ...LedgerEntry) error {
	for i := range entries {
		entries[i].Seq = e.seq + int64(i) + 1
		entries[i].ID = uuid.New()
		entries[i].ItemID = item.ID
		entries[i].ItemVersion = item.Version + i + 1
	}
	if err := e.journal.Append(ctx, entries); err != nil {
		return fmt.Errorf("failed to append ledger entries: %w", err)
	}
	e.seq += int64(len(entries))
	item.Version += len(entries)
	e.entries = append(e.entries, entries...)
	return nil
}

func (e *Engine) refreshGauges() {
	telemetry.OpenLoans.Set(float64(len(e.openByItem)))
}
