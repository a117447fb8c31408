package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"circdesk/internal/audit"
	"circdesk/internal/catalog"
	"circdesk/internal/circulation"
	"circdesk/internal/clock"
	"circdesk/internal/membership"
	"circdesk/internal/notify"
	"circdesk/internal/policy"
)

type stack struct {
	t       *testing.T
	srv     *httptest.Server
	clock   *clock.Fixed
	members membership.Service
	catalog catalog.Service
	engine  *circulation.Engine
	auditor *audit.Auditor
}

func newStack(t *testing.T, requireAuth bool) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFixed(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	members := membership.NewService(
		membership.WithClock(clk),
		membership.WithSecret("test-secret"),
		membership.WithLoginRate(rate.Inf, 1),
		membership.WithLogger(logger),
		membership.WithAdmins("desk@example.org"),
	)
	cat := catalog.NewService(catalog.WithClock(clk), catalog.WithLogger(logger))
	dispatcher := notify.NewDispatcher(clk, notify.WithGenreIndex(members), notify.WithLogger(logger))
	engine := circulation.New(cat, members, dispatcher, circulation.WithClock(clk), circulation.WithLogger(logger))
	ConnectArrivals(cat, engine, dispatcher, logger)

	auditor := audit.NewAuditor(audit.WithClock(clk), audit.WithLogger(logger))
	auditor.Register(audit.EngineProbes(engine)...)

	srv := New(Deps{
		Circulation: engine,
		Catalog:     cat,
		Members:     members,
		Dispatcher:  dispatcher,
		Auditor:     auditor,
		Clock:       clk,
		Logger:      logger,
	})
	if requireAuth {
		srv.RequireAuth()
	}
	srv.EnableMetrics()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &stack{t: t, srv: ts, clock: clk, members: members, catalog: cat, engine: engine, auditor: auditor}
}

func (s *stack) do(method, path, token string, body interface{}, out interface{}) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out), "%s %s", method, path)
	}
	return resp.StatusCode
}

func (s *stack) register(email string, genres ...string) (membership.Member, string) {
	s.t.Helper()
	var m membership.Member
	code := s.do(http.MethodPost, APIPrefix+"/members", "", map[string]interface{}{
		"email": email, "name": email, "password": "correct horse", "favorite_genres": genres,
	}, &m)
	require.Equal(s.t, http.StatusCreated, code)

	var login struct {
		Token string `json:"token"`
	}
	code = s.do(http.MethodPost, APIPrefix+"/login", "", map[string]string{"email": email, "password": "correct horse"}, &login)
	require.Equal(s.t, http.StatusOK, code)
	return m, login.Token
}

func TestCirculationOverHTTP(t *testing.T) {
	s := newStack(t, true)
	alice, aliceToken := s.register("alice@example.org", "fantasy")
	bob, bobToken := s.register("bob@example.org")

	var entry struct {
		ID uuid.UUID `json:"id"`
	}
	code := s.do(http.MethodPost, APIPrefix+"/catalog", aliceToken, map[string]interface{}{
		"title": "The Hobbit", "author": "J. R. R. Tolkien", "isbn": "978-0-261-10221-7", "genre": "Fantasy", "pages": 310,
	}, &entry)
	require.Equal(t, http.StatusCreated, code)

	var item circulation.Item
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, APIPrefix+"/items/"+entry.ID.String(), aliceToken, nil, &item))
	assert.Equal(t, circulation.StatusAvailable, item.Status, "catalogued items circulate immediately")

	var notes []notify.Notification
	s.do(http.MethodGet, APIPrefix+"/patrons/"+alice.ID.String()+"/notifications", aliceToken, nil, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, notify.NewArrival, notes[0].Kind)

	var loan circulation.Loan
	code = s.do(http.MethodPost, APIPrefix+"/loans", aliceToken, map[string]uuid.UUID{"patron_id": alice.ID, "item_id": entry.ID}, &loan)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 14, clock.DaysBetween(loan.CheckedOutAt, loan.DueDate))

	code = s.do(http.MethodPost, APIPrefix+"/reservations", bobToken, map[string]uuid.UUID{"patron_id": bob.ID, "item_id": entry.ID}, nil)
	require.Equal(t, http.StatusCreated, code)

	code = s.do(http.MethodPost, APIPrefix+"/returns", aliceToken, map[string]uuid.UUID{"patron_id": alice.ID, "item_id": entry.ID}, nil)
	require.Equal(t, http.StatusOK, code)

	notes = nil
	s.do(http.MethodGet, APIPrefix+"/patrons/"+bob.ID.String()+"/notifications?unread=true", bobToken, nil, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, notify.ReservationReady, notes[0].Kind)

	code = s.do(http.MethodPost, APIPrefix+"/loans", aliceToken, map[string]uuid.UUID{"patron_id": alice.ID, "item_id": entry.ID}, nil)
	assert.Equal(t, http.StatusConflict, code, "the copy is held for bob")

	var me membership.Member
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, APIPrefix+"/me", bobToken, nil, &me))
	assert.Equal(t, bob.ID, me.ID)

	s.auditor.RunOnce(context.Background())
	var health map[string]interface{}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "ok", health["status"])
}

func TestAuthRequired(t *testing.T) {
	s := newStack(t, true)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, APIPrefix+"/loans", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, APIPrefix+"/loans", "garbage", nil, nil))

	m, token := s.register("carol@example.org")
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, APIPrefix+"/loans", token, nil, nil))

	_, err := s.members.SetActive(context.Background(), m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, APIPrefix+"/loans", token, nil, nil))
}

func TestMemberManagementNeedsAdmin(t *testing.T) {
	s := newStack(t, true)
	erin, erinToken := s.register("erin@example.org")
	frank, _ := s.register("frank@example.org")
	_, deskToken := s.register("desk@example.org")
	path := func(m membership.Member) string { return APIPrefix + "/members/" + m.ID.String() }

	var got membership.Member
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path(erin), erinToken, map[string]string{"class": "faculty"}, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path(frank), erinToken, map[string]bool{"active": false}, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path(erin), erinToken, map[string]string{"role": "admin"}, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path(frank), erinToken, map[string][]string{"favorite_genres": {"horror"}}, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, APIPrefix+"/members", "", map[string]string{
		"email": "gina@example.org", "name": "Gina", "password": "correct horse", "class": "faculty",
	}, nil))

	class, _ := s.members.AccountClass(erin.ID)
	assert.Equal(t, policy.Standard, class)
	assert.True(t, s.members.IsActive(frank.ID))

	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, path(erin), erinToken, map[string][]string{"favorite_genres": {"poetry"}}, &got))
	assert.Equal(t, []string{"poetry"}, got.FavoriteGenres)

	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, path(erin), deskToken, map[string]string{"class": "faculty"}, &got))
	assert.Equal(t, policy.Faculty, got.Class)
	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, path(frank), deskToken, map[string]bool{"active": false}, &got))
	assert.False(t, got.Active)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, APIPrefix+"/members", deskToken, map[string]string{
		"email": "gina@example.org", "name": "Gina", "password": "correct horse", "class": "faculty",
	}, &got))
	assert.Equal(t, policy.Faculty, got.Class)

	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, path(erin), deskToken, map[string]string{"role": "admin"}, &got))
	assert.Equal(t, membership.RoleAdmin, got.Role)
	assert.Equal(t, http.StatusOK, s.do(http.MethodPatch, path(frank), erinToken, map[string]bool{"active": true}, nil),
		"a promotion takes effect on the existing token")
}

func TestOpenAPIWithoutAuth(t *testing.T) {
	s := newStack(t, false)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, APIPrefix+"/loans", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, APIPrefix+"/me", "", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newStack(t, false)
	s.do(http.MethodGet, APIPrefix+"/loans", "", nil, nil)

	resp, err := http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "circdesk_open_loans")
}

func TestReconcileRegistersMissingItems(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	cat := catalog.NewService(catalog.WithClock(clk))
	members := membership.NewService(membership.WithClock(clk))
	engine := circulation.New(cat, members, notify.NewDispatcher(clk), circulation.WithClock(clk))

	e, err := cat.AddItem(ctx, catalog.NewEntry{Title: "Dune", ISBN: "0441013597"})
	require.NoError(t, err)

	n, err := Reconcile(ctx, cat, engine)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = engine.Item(e.ID)
	assert.NoError(t, err)

	n, err = Reconcile(ctx, cat, engine)
	require.NoError(t, err)
	assert.Zero(t, n)
}
