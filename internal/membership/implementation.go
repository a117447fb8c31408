// internal/membership/implementation.go
package membership

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"circdesk/internal/clock"
	"circdesk/internal/policy"
	"circdesk/internal/telemetry"
	"circdesk/pkg/eventstore"
)

const (
	aggregateType           = "membership"
	eventMemberRegistered   = "MemberRegistered"
	eventMemberChanged      = "MemberChanged"
	DefaultMaxLoginAttempts = 3
	DefaultLockout          = 15 * time.Minute
	minPasswordLen          = 8
)

// streamID is the single aggregate every membership event is appended to.
var streamID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("circdesk:membership"))

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// service implements the Service interface.
type service struct {
	mu      sync.RWMutex
	members map[uuid.UUID]*Member
	creds   map[uuid.UUID]*Credential
	byEmail map[string]uuid.UUID
	order   []uuid.UUID

	eventStore  *eventstore.EventStore
	version     int
	clock       clock.Clock
	logger      *slog.Logger
	rateLimiter *rate.Limiter
	secret      []byte
	tokenTTL    time.Duration
	maxAttempts int
	lockout     time.Duration
	admins      map[string]bool
}

// Option configures the membership service.
type Option func(*service)

// WithEventStore journals registrations and changes so members survive restarts.
func WithEventStore(es *eventstore.EventStore) Option {
	return func(s *service) { s.eventStore = es }
}

func WithClock(c clock.Clock) Option { return func(s *service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.logger = l } }

// WithSecret sets the HMAC key tokens are signed with.
func WithSecret(secret string) Option {
	return func(s *service) { s.secret = []byte(secret) }
}

func WithTokenTTL(d time.Duration) Option { return func(s *service) { s.tokenTTL = d } }

// WithMaxLoginAttempts sets how many consecutive failures lock an account.
func WithMaxLoginAttempts(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLockout sets how long a locked account stays locked.
func WithLockout(d time.Duration) Option { return func(s *service) { s.lockout = d } }

// WithAdmins grants the admin role to members registered under these
// addresses, whatever their journalled role.
func WithAdmins(emails ...string) Option {
	return func(s *service) {
		for _, e := range emails {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				s.admins[e] = true
			}
		}
	}
}

// WithLoginRate replaces the login rate limiter.
func WithLoginRate(limit rate.Limit, burst int) Option {
	return func(s *service) { s.rateLimiter = rate.NewLimiter(limit, burst) }
}

// NewService creates a new membership service instance. Without WithSecret a
// random signing key is generated, so tokens do not outlive the process.
func NewService(opts ...Option) Service {
	s := &service{
		members:     make(map[uuid.UUID]*Member),
		creds:       make(map[uuid.UUID]*Credential),
		byEmail:     make(map[string]uuid.UUID),
		clock:       clock.System{},
		logger:      slog.Default(),
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		tokenTTL:    DefaultTokenTTL,
		maxAttempts: DefaultMaxLoginAttempts,
		lockout:     DefaultLockout,
		admins:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			panic(fmt.Sprintf("membership: reading random secret: %v", err))
		}
	}
	return s
}

// Load replays the membership journal. It is a no-op without an event store.
func (s *service) Load(ctx context.Context) error {
	if s.eventStore == nil {
		return nil
	}
	events, err := s.eventStore.LoadEvents(ctx, streamID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to load membership events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		switch ev.EventType {
		case eventMemberRegistered:
			var reg MemberRegisteredEvent
			if err := json.Unmarshal(ev.EventData, &reg); err != nil {
				return fmt.Errorf("failed to unmarshal membership event %d: %w", ev.ID, err)
			}
			s.insert(reg.Member, reg.Credential)
		case eventMemberChanged:
			var ch MemberChangedEvent
			if err := json.Unmarshal(ev.EventData, &ch); err != nil {
				return fmt.Errorf("failed to unmarshal membership event %d: %w", ev.ID, err)
			}
			if m, ok := s.members[ch.ID]; ok {
				apply(m, ch)
				s.keepAdmin(m)
			}
		}
		s.version = ev.Version
	}
	s.logger.Info("members loaded", "members", len(s.members))
	return nil
}

// append journals one event at the current stream version. The caller holds mu.
func (s *service) append(ctx context.Context, eventType string, memberID uuid.UUID, data interface{}) error {
	if s.eventStore == nil {
		return nil
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	event := eventstore.Event{
		EventType: eventType,
		EventData: jsonData,
		Metadata:  map[string]interface{}{"member_id": memberID.String()},
	}
	if err := s.eventStore.AppendEvents(ctx, streamID, aggregateType, s.version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	s.version++
	return nil
}

// RegisterMember creates a new member with a hashed password.
func (s *service) RegisterMember(ctx context.Context, in NewMember) (*Member, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	if len(in.Password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	class := policy.Standard
	if in.Class != "" {
		if class, err = policy.ParseClass(string(in.Class)); err != nil {
			return nil, err
		}
	}
	role := RoleMember
	if in.Role != "" {
		if role, err = ParseRole(string(in.Role)); err != nil {
			return nil, err
		}
	}

	passwordHash, salt, err := hashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.clock.Now()
	member := Member{
		ID:             uuid.New(),
		Email:          email,
		Name:           name,
		Class:          class,
		Role:           role,
		Active:         true,
		FavoriteGenres: normalizeGenres(in.FavoriteGenres),
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	cred := Credential{MemberID: member.ID, PasswordHash: passwordHash, Salt: salt}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	if err := s.append(ctx, eventMemberRegistered, member.ID, MemberRegisteredEvent{Member: member, Credential: cred}); err != nil {
		return nil, err
	}
	s.insert(member, cred)

	s.logger.Info("member registered", "member_id", member.ID, "class", member.Class, "role", member.Role)
	out := s.members[member.ID].clone()
	return &out, nil
}

func (s *service) insert(m Member, c Credential) {
	if m.Role == "" {
		m.Role = RoleMember
	}
	s.keepAdmin(&m)
	if _, ok := s.members[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.members[m.ID] = &m
	s.creds[m.ID] = &c
	s.byEmail[m.Email] = m.ID
}

// Authenticate verifies a member's credentials and issues a signed token.
// Consecutive failures beyond the configured maximum lock the account.
func (s *service) Authenticate(ctx context.Context, email, password string) (string, *Member, error) {
	if !s.rateLimiter.Allow() {
		telemetry.LoginAttempts.WithLabelValues("limited").Inc()
		return "", nil, ErrRateLimited
	}
	email = strings.ToLower(strings.TrimSpace(email))
	now := s.clock.Now()

	s.mu.RLock()
	id, ok := s.byEmail[email]
	var cred Credential
	if ok {
		cred = *s.creds[id]
	}
	s.mu.RUnlock()
	if !ok {
		telemetry.LoginAttempts.WithLabelValues("invalid").Inc()
		return "", nil, ErrInvalidCredentials
	}
	if now.Before(cred.LockedUntil) {
		telemetry.LoginAttempts.WithLabelValues("locked").Inc()
		return "", nil, fmt.Errorf("%w until %s", ErrAccountLocked, cred.LockedUntil.Format(time.RFC3339))
	}

	valid, err := verifyPassword(password, cred)
	if err != nil {
		return "", nil, fmt.Errorf("authentication failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.creds[id]
	if !valid {
		c.FailedAttempts++
		if c.FailedAttempts >= s.maxAttempts {
			c.FailedAttempts = 0
			c.LockedUntil = now.Add(s.lockout)
			s.logger.Warn("member locked out", "member_id", id, "until", c.LockedUntil)
			telemetry.LoginAttempts.WithLabelValues("locked").Inc()
			return "", nil, fmt.Errorf("%w until %s", ErrAccountLocked, c.LockedUntil.Format(time.RFC3339))
		}
		telemetry.LoginAttempts.WithLabelValues("invalid").Inc()
		return "", nil, ErrInvalidCredentials
	}
	c.FailedAttempts = 0
	c.LockedUntil = time.Time{}

	member := s.members[id].clone()
	token, err := generateToken(s.secret, &member, now, s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	telemetry.LoginAttempts.WithLabelValues("ok").Inc()
	return token, &member, nil
}

// ParseToken validates a token and checks that its member still exists. The
// returned claims carry the member's current class and role, not the ones
// the token was issued with.
func (s *service) ParseToken(token string) (*Claims, error) {
	claims, err := ValidateToken(s.secret, token, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[claims.MemberID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown member %s", ErrInvalidToken, claims.MemberID)
	}
	claims.Class = m.Class
	claims.Role = m.Role
	return claims, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("member with ID %s: %w", id, ErrMemberNotFound)
	}
	out := m.clone()
	return &out, nil
}

// ListMembers returns every member in registration order.
func (s *service) ListMembers(ctx context.Context) []*Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Member, 0, len(s.order))
	for _, id := range s.order {
		m := s.members[id].clone()
		out = append(out, &m)
	}
	return out
}

func (s *service) SetClass(ctx context.Context, id uuid.UUID, class policy.Class) (*Member, error) {
	class, err := policy.ParseClass(string(class))
	if err != nil {
		return nil, err
	}
	return s.change(ctx, MemberChangedEvent{ID: id, Class: &class})
}

func (s *service) SetRole(ctx context.Context, id uuid.UUID, role Role) (*Member, error) {
	role, err := ParseRole(string(role))
	if err != nil {
		return nil, err
	}
	return s.change(ctx, MemberChangedEvent{ID: id, Role: &role})
}

func (s *service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Member, error) {
	return s.change(ctx, MemberChangedEvent{ID: id, Active: &active})
}

func (s *service) SetFavoriteGenres(ctx context.Context, id uuid.UUID, genres []string) (*Member, error) {
	genres = normalizeGenres(genres)
	if genres == nil {
		genres = []string{}
	}
	return s.change(ctx, MemberChangedEvent{ID: id, FavoriteGenres: genres})
}

func (s *service) change(ctx context.Context, ev MemberChangedEvent) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[ev.ID]
	if !ok {
		return nil, fmt.Errorf("member with ID %s: %w", ev.ID, ErrMemberNotFound)
	}
	ev.At = s.clock.Now()
	if err := s.append(ctx, eventMemberChanged, ev.ID, ev); err != nil {
		return nil, err
	}
	apply(m, ev)
	s.keepAdmin(m)

	s.logger.Info("member updated", "member_id", m.ID, "class", m.Class, "role", m.Role, "active", m.Active)
	out := m.clone()
	return &out, nil
}

func apply(m *Member, ev MemberChangedEvent) {
	if ev.Class != nil {
		m.Class = *ev.Class
	}
	if ev.Role != nil {
		m.Role = *ev.Role
	}
	if ev.Active != nil {
		m.Active = *ev.Active
	}
	if ev.FavoriteGenres != nil {
		m.FavoriteGenres = append([]string(nil), ev.FavoriteGenres...)
	}
	m.UpdatedAt = ev.At
	m.Version++
}

// keepAdmin holds members listed by WithAdmins at the admin role.
func (s *service) keepAdmin(m *Member) {
	if s.admins[m.Email] {
		m.Role = RoleAdmin
	}
}

// AccountClass reports the class of a registered member.
func (s *service) AccountClass(id uuid.UUID) (policy.Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return "", false
	}
	return m.Class, true
}

func (s *service) IsActive(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return ok && m.Active
}

// PatronsFavoring returns the active members who list genre as a favourite,
// in registration order.
func (s *service) PatronsFavoring(genre string) []uuid.UUID {
	genre = strings.ToLower(strings.TrimSpace(genre))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for _, id := range s.order {
		m := s.members[id]
		if !m.Active {
			continue
		}
		for _, g := range m.FavoriteGenres {
			if g == genre {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func (m Member) clone() Member {
	m.FavoriteGenres = append([]string(nil), m.FavoriteGenres...)
	return m
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Address != strings.TrimSpace(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return strings.ToLower(addr.Address), nil
}

// normalizeGenres lowercases, trims and dedupes genres, sorted.
func normalizeGenres(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, g := range in {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
