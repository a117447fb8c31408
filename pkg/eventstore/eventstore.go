// Package eventstore is an append-only, optimistically locked event log with
// snapshot support on top of PostgreSQL or SQLite.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

const (
	tableEvents    = "events"
	tableSnapshots = "snapshots"
	colID          = "id"
	colAggregateID = "aggregate_id"
	colAggType     = "aggregate_type"
	colEventType   = "event_type"
	colEventData   = "event_data"
	colMetadata    = "metadata"
	colVersion     = "version"
	colState       = "state"
	colCreatedAt   = "created_at"
	pgUniqueCode   = "23505"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event represents a domain event with full metadata.
type Event struct {
	ID            int64                  `json:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	EventData     []byte                 `json:"event_data"`
	Metadata      map[string]interface{} `json:"metadata"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
}

type eventRow struct {
	ID            int64  `db:"id"`
	AggregateID   string `db:"aggregate_id"`
	AggregateType string `db:"aggregate_type"`
	EventType     string `db:"event_type"`
	EventData     []byte `db:"event_data"`
	Metadata      []byte `db:"metadata"`
	Version       int    `db:"version"`
	CreatedAt     dbTime `db:"created_at"`
}

func (r eventRow) event() (Event, error) {
	id, err := uuid.Parse(r.AggregateID)
	if err != nil {
		return Event{}, fmt.Errorf("parse aggregate id %q: %w", r.AggregateID, err)
	}
	ev := Event{
		ID:            r.ID,
		AggregateID:   id,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     r.EventData,
		Version:       r.Version,
		CreatedAt:     time.Time(r.CreatedAt),
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata of event %d: %w", r.ID, err)
		}
	}
	return ev, nil
}

// EventStore provides ACID appends with optimistic concurrency per aggregate.
type EventStore struct {
	db       *sqlx.DB
	dialect  goqu.DialectWrapper
	postgres bool
	tracer   trace.Tracer
	appendMs metric.Float64Histogram
}

// NewEventStore wraps db. The SQL dialect follows the driver db was opened with.
func NewEventStore(db *sqlx.DB) *EventStore {
	postgres := db.DriverName() != "sqlite"
	dialect := "sqlite3"
	if postgres {
		dialect = "postgres"
	}
	hist, err := otel.Meter("circdesk/eventstore").Float64Histogram("eventstore.append.duration",
		metric.WithDescription("Time spent appending a batch of events."),
		metric.WithUnit("ms"))
	if err != nil {
		otel.Handle(err)
	}
	return &EventStore{
		db:       db,
		dialect:  goqu.Dialect(dialect),
		postgres: postgres,
		tracer:   otel.Tracer("circdesk/eventstore"),
		appendMs: hist,
	}
}

// AppendEvents atomically appends events with optimistic concurrency control.
// expectedVersion must equal the aggregate's current version; the events get
// the versions that follow it.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	start := time.Now()
	defer func() {
		if es.appendMs != nil {
			es.appendMs.Record(ctx, float64(time.Since(start).Microseconds())/1000,
				metric.WithAttributes(attribute.String("aggregate.type", aggregateType)))
		}
	}()

	opts := &sql.TxOptions{}
	if es.postgres {
		opts.Isolation = sql.LevelSerializable
	}
	tx, err := es.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	currentVersion, err := es.currentVersion(ctx, tx, aggregateID)
	if err != nil {
		return err
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	rows := make([]interface{}, 0, len(events))
	for i, event := range events {
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of event %d: %w", i, err)
		}
		rows = append(rows, goqu.Record{
			colAggregateID: aggregateID.String(),
			colAggType:     aggregateType,
			colEventType:   event.EventType,
			colEventData:   string(event.EventData),
			colMetadata:    string(metadata),
			colVersion:     expectedVersion + i + 1,
			colCreatedAt:   now,
		})
	}
	query, _, err := es.dialect.Insert(tableEvents).Rows(rows...).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query); err != nil {
		if isUniqueViolation(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("insert events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

func (es *EventStore) currentVersion(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID) (int, error) {
	query, _, err := es.dialect.From(tableEvents).
		Select(goqu.COALESCE(goqu.MAX(colVersion), 0)).
		Where(goqu.C(colAggregateID).Eq(aggregateID.String())).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build version query: %w", err)
	}
	var version int
	if err := sqlx.GetContext(ctx, q, &version, query); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

// LoadEvents retrieves the events of an aggregate from fromVersion on, up to
// toVersion when it is positive.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	where := goqu.Ex{
		colAggregateID: aggregateID.String(),
		colVersion:     goqu.Op{"gte": fromVersion},
	}
	if toVersion > 0 {
		where[colVersion] = goqu.Op{"gte": fromVersion, "lte": toVersion}
	}
	events, err := es.selectEvents(ctx, es.dialect.From(tableEvents).Where(where).Order(goqu.I(colVersion).Asc()))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version for an aggregate, 0 if it has none.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	version, err := es.currentVersion(ctx, es.db, aggregateID)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

// StreamEvents provides a cursor-based event stream across all aggregates.
func (es *EventStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	events, err := es.selectEvents(ctx, es.dialect.From(tableEvents).
		Where(goqu.C(colID).Gt(fromID)).
		Order(goqu.I(colID).Asc()).
		Limit(uint(batchSize)))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

func (es *EventStore) selectEvents(ctx context.Context, ds *goqu.SelectDataset) ([]Event, error) {
	query, _, err := ds.Select(colID, colAggregateID, colAggType, colEventType, colEventData, colMetadata, colVersion, colCreatedAt).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	var rows []eventRow
	if err := es.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Snapshot is stored aggregate state used to skip replaying old events.
type Snapshot struct {
	AggregateID   uuid.UUID `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Version       int       `json:"version"`
	State         []byte    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
}

// SaveSnapshot stores aggregate state. An older version never replaces a newer one.
func (es *EventStore) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.save_snapshot",
		trace.WithAttributes(
			attribute.String("aggregate.id", snapshot.AggregateID.String()),
			attribute.Int("snapshot.version", snapshot.Version),
		),
	)
	defer span.End()

	query := es.db.Rebind(`
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE
		SET version = excluded.version,
		    state = excluded.state,
		    created_at = excluded.created_at
		WHERE snapshots.version < excluded.version
	`)
	if _, err := es.db.ExecContext(ctx, query,
		snapshot.AggregateID.String(), snapshot.AggregateType, snapshot.Version, string(snapshot.State), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves the latest snapshot. It returns nil, nil when the
// aggregate has none.
func (es *EventStore) LoadSnapshot(ctx context.Context, aggregateID uuid.UUID) (*Snapshot, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load_snapshot",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	query, _, err := es.dialect.From(tableSnapshots).
		Select(colAggType, colVersion, colState, colCreatedAt).
		Where(goqu.C(colAggregateID).Eq(aggregateID.String())).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build snapshot query: %w", err)
	}

	var row struct {
		AggregateType string    `db:"aggregate_type"`
		Version       int       `db:"version"`
		State         []byte    `db:"state"`
		CreatedAt     dbTime    `db:"created_at"`
	}
	err = es.db.GetContext(ctx, &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: row.AggregateType,
		Version:       row.Version,
		State:         row.State,
		CreatedAt:     time.Time(row.CreatedAt),
	}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueCode
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueCode
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
