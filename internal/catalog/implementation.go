// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"circdesk/internal/clock"
	"circdesk/pkg/eventstore"
)

const (
	aggregateType  = "catalog"
	eventItemAdded = "ItemAdded"
	searchLimit    = 10
)

// streamID is the single aggregate every catalog event is appended to.
var streamID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("circdesk:catalog"))

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// service implements the Service interface.
type service struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	order   []uuid.UUID
	hooks   []ArrivalHook

	eventStore *eventstore.EventStore
	version    int
	clock      clock.Clock
	logger     *slog.Logger
}

// Option configures the catalog service.
type Option func(*service)

// WithEventStore journals every added entry so the catalog survives restarts.
func WithEventStore(es *eventstore.EventStore) Option {
	return func(s *service) { s.eventStore = es }
}

func WithClock(c clock.Clock) Option { return func(s *service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.logger = l } }

// NewService creates a new catalog service instance.
func NewService(opts ...Option) Service {
	s := &service{
		entries: make(map[uuid.UUID]*Entry),
		clock:   clock.System{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replays the journalled catalog. It is a no-op without an event store.
func (s *service) Load(ctx context.Context) error {
	if s.eventStore == nil {
		return nil
	}
	events, err := s.eventStore.LoadEvents(ctx, streamID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to load catalog events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev.EventType != eventItemAdded {
			continue
		}
		var added ItemAddedEvent
		if err := json.Unmarshal(ev.EventData, &added); err != nil {
			return fmt.Errorf("failed to unmarshal catalog event %d: %w", ev.ID, err)
		}
		s.insert(added.Entry)
		s.version = ev.Version
	}
	s.logger.Info("catalog loaded", "entries", len(s.entries))
	return nil
}

// AddItem creates a new item in the catalog and runs the arrival hooks.
func (s *service) AddItem(ctx context.Context, in NewEntry) (*Entry, error) {
	entry, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.eventStore != nil {
		jsonData, err := json.Marshal(ItemAddedEvent{Entry: entry})
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to marshal event data: %w", err)
		}
		event := eventstore.Event{
			EventType: eventItemAdded,
			EventData: jsonData,
			Metadata:  map[string]interface{}{"item_id": entry.ID.String()},
		}
		if err := s.eventStore.AppendEvents(ctx, streamID, aggregateType, s.version, []eventstore.Event{event}); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to append event: %w", err)
		}
		s.version++
	}
	s.insert(entry)
	hooks := append([]ArrivalHook(nil), s.hooks...)
	s.mu.Unlock()

	s.logger.Info("item catalogued", "item_id", entry.ID, "title", entry.Title, "genre", entry.Genre, "format", entry.Format)
	for _, hook := range hooks {
		if err := hook(ctx, entry); err != nil {
			s.logger.Error("arrival hook failed", "item_id", entry.ID, "error", err)
		}
	}
	out := entry
	return &out, nil
}

func (s *service) validate(in NewEntry) (Entry, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Entry{}, ErrMissingTitle
	}
	isbn := normalizeISBN(in.ISBN)
	if len(isbn) != 10 && len(isbn) != 13 {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidISBN, in.ISBN)
	}
	format := in.Format
	if format == "" {
		format = Paperback
	}
	if !format.valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownFormat, in.Format)
	}
	category := in.Category
	if category == "" {
		category = General
	}
	language := in.Language
	if language == "" {
		language = "English"
	}
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	return Entry{
		ID:              uuid.New(),
		ISBN:            isbn,
		Title:           title,
		Author:          strings.TrimSpace(in.Author),
		Genre:           strings.ToLower(strings.TrimSpace(in.Genre)),
		Publisher:       in.Publisher,
		Language:        language,
		Year:            in.Year,
		Tags:            tags,
		Format:          format,
		Category:        category,
		Pages:           in.Pages,
		WordCount:       in.WordCount,
		DurationMinutes: in.DurationMinutes,
		FileSizeMB:      in.FileSizeMB,
		AddedAt:         s.clock.Now(),
	}, nil
}

// normalizeISBN drops hyphens and spaces; a trailing X check digit is kept.
func normalizeISBN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == 'X' || r == 'x':
			b.WriteRune('X')
		case r == '-' || r == ' ':
		default:
			return ""
		}
	}
	return b.String()
}

func (s *service) insert(e Entry) {
	if _, ok := s.entries[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.entries[e.ID] = &e
}

// GetItem retrieves an item from the catalog by its ID.
func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("item with ID %s: %w", id, ErrItemNotFound)
	}
	out := *e
	return &out, nil
}

// Search finds entries whose title, author, genre or tags contain every word
// of query. At most ten results are returned, oldest first.
func (s *service) Search(ctx context.Context, query string) ([]*Entry, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil, errors.New("missing search query")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []*Entry
	for _, id := range s.order {
		e := s.entries[id]
		if matches(e, words) {
			out := *e
			items = append(items, &out)
			if len(items) == searchLimit {
				break
			}
		}
	}
	return items, nil
}

func matches(e *Entry, words []string) bool {
	haystack := strings.ToLower(strings.Join(append([]string{e.Title, e.Author, e.Genre}, e.Tags...), " "))
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

// List returns every entry in the order it was catalogued.
func (s *service) List(ctx context.Context) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		e := *s.entries[id]
		out = append(out, &e)
	}
	return out
}

func (s *service) ItemExists(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

func (s *service) GenreOf(id uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return "", false
	}
	return e.Genre, true
}

func (s *service) OnAdded(hook ArrivalHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}
