package membership

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"circdesk/internal/clock"
	"circdesk/internal/db"
	"circdesk/internal/policy"
	"circdesk/pkg/eventstore"
)

const testSecret = "test-secret"

func newTestService(t *testing.T, opts ...Option) (Service, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	base := []Option{WithClock(clk), WithSecret(testSecret), WithLoginRate(rate.Inf, 1)}
	return NewService(append(base, opts...)...), clk
}

func uuidOf(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

func register(t *testing.T, s Service, email string, genres ...string) *Member {
	t.Helper()
	m, err := s.RegisterMember(context.Background(), NewMember{
		Email:          email,
		Name:           "Reader " + email,
		Password:       "correct horse",
		FavoriteGenres: genres,
	})
	require.NoError(t, err)
	return m
}

func TestRegisterMember(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	m, err := s.RegisterMember(ctx, NewMember{
		Email:          "Ada@Example.org",
		Name:           " Ada ",
		Password:       "correct horse",
		Class:          "Faculty",
		FavoriteGenres: []string{"Fantasy", "history", "fantasy", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", m.Email)
	assert.Equal(t, "Ada", m.Name)
	assert.Equal(t, policy.Faculty, m.Class)
	assert.True(t, m.Active)
	assert.Equal(t, []string{"fantasy", "history"}, m.FavoriteGenres)

	class, ok := s.AccountClass(m.ID)
	assert.True(t, ok)
	assert.Equal(t, policy.Faculty, class)
	assert.True(t, s.IsActive(m.ID))

	_, err = s.RegisterMember(ctx, NewMember{Email: "ada@example.org", Name: "Other", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterMemberValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.RegisterMember(ctx, NewMember{Email: "not-an-email", Name: "A", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = s.RegisterMember(ctx, NewMember{Email: "a@example.org", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrMissingName)
	_, err = s.RegisterMember(ctx, NewMember{Email: "a@example.org", Name: "A", Password: "short"})
	assert.ErrorIs(t, err, ErrWeakPassword)
	_, err = s.RegisterMember(ctx, NewMember{Email: "a@example.org", Name: "A", Password: "correct horse", Class: "emperor"})
	assert.ErrorIs(t, err, policy.ErrUnknownClass)

	assert.Empty(t, s.ListMembers(ctx))
}

func TestUnknownMemberDirectory(t *testing.T) {
	s, _ := newTestService(t)
	m := register(t, s, "a@example.org")

	_, ok := s.AccountClass(uuidOf("stranger"))
	assert.False(t, ok)
	assert.False(t, s.IsActive(uuidOf("stranger")))
	assert.True(t, s.IsActive(m.ID))
}

func TestAuthenticateIssuesToken(t *testing.T) {
	s, _ := newTestService(t)
	m := register(t, s, "a@example.org")

	token, got, err := s.Authenticate(context.Background(), " A@example.org", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, m.ID, claims.MemberID)
	assert.Equal(t, policy.Standard, claims.Class)
	assert.Equal(t, m.ID.String(), claims.Subject)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	s, _ := newTestService(t)
	_, _, err := s.Authenticate(context.Background(), "ghost@example.org", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLockout(t *testing.T) {
	s, clk := newTestService(t, WithLockout(10*time.Minute))
	register(t, s, "a@example.org")
	ctx := context.Background()

	_, _, err := s.Authenticate(ctx, "a@example.org", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Authenticate(ctx, "a@example.org", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Authenticate(ctx, "a@example.org", "wrong")
	assert.ErrorIs(t, err, ErrAccountLocked)

	_, _, err = s.Authenticate(ctx, "a@example.org", "correct horse")
	assert.ErrorIs(t, err, ErrAccountLocked, "the right password does not bypass a lock")

	clk.Advance(10 * time.Minute)
	_, _, err = s.Authenticate(ctx, "a@example.org", "correct horse")
	assert.NoError(t, err)
}

func TestSuccessfulLoginResetsFailures(t *testing.T) {
	s, _ := newTestService(t)
	register(t, s, "a@example.org")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := s.Authenticate(ctx, "a@example.org", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, _, err := s.Authenticate(ctx, "a@example.org", "correct horse")
	require.NoError(t, err)
	_, _, err = s.Authenticate(ctx, "a@example.org", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRateLimit(t *testing.T) {
	s, _ := newTestService(t, WithLoginRate(rate.Every(time.Hour), 1))
	register(t, s, "a@example.org")
	ctx := context.Background()

	_, _, err := s.Authenticate(ctx, "a@example.org", "correct horse")
	require.NoError(t, err)
	_, _, err = s.Authenticate(ctx, "a@example.org", "correct horse")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestTokenExpiry(t *testing.T) {
	s, clk := newTestService(t, WithTokenTTL(time.Hour))
	register(t, s, "a@example.org")

	token, _, err := s.Authenticate(context.Background(), "a@example.org", "correct horse")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = s.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromOtherSecret(t *testing.T) {
	other, _ := newTestService(t, WithSecret("other"))
	register(t, other, "a@example.org")
	token, _, err := other.Authenticate(context.Background(), "a@example.org", "correct horse")
	require.NoError(t, err)

	s, _ := newTestService(t)
	_, err = s.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSetClassAndActive(t *testing.T) {
	s, _ := newTestService(t)
	m := register(t, s, "a@example.org")
	ctx := context.Background()

	updated, err := s.SetClass(ctx, m.ID, policy.Premium)
	require.NoError(t, err)
	assert.Equal(t, policy.Premium, updated.Class)
	assert.Equal(t, 2, updated.Version)

	_, err = s.SetClass(ctx, m.ID, "emperor")
	assert.ErrorIs(t, err, policy.ErrUnknownClass)

	updated, err = s.SetActive(ctx, m.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.False(t, s.IsActive(m.ID))

	_, err = s.SetActive(ctx, uuidOf("missing"), true)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestPatronsFavoring(t *testing.T) {
	s, _ := newTestService(t)
	a := register(t, s, "a@example.org", "fantasy")
	b := register(t, s, "b@example.org", "Fantasy", "poetry")
	c := register(t, s, "c@example.org", "fantasy")
	register(t, s, "d@example.org", "history")
	ctx := context.Background()

	_, err := s.SetActive(ctx, c.ID, false)
	require.NoError(t, err)

	got := s.PatronsFavoring("FANTASY")
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, got)

	_, err = s.SetFavoriteGenres(ctx, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, s.PatronsFavoring("fantasy"))
	assert.Empty(t, s.PatronsFavoring("cookery"))
}

func TestMembershipSurvivesReload(t *testing.T) {
	store := eventstore.NewEventStore(db.NewTestDB(t))
	ctx := context.Background()

	s, _ := newTestService(t, WithEventStore(store))
	m := register(t, s, "a@example.org", "fantasy")
	_, err := s.SetClass(ctx, m.ID, policy.Student)
	require.NoError(t, err)
	_, err = s.SetFavoriteGenres(ctx, m.ID, []string{})
	require.NoError(t, err)

	reloaded, _ := newTestService(t, WithEventStore(store))
	require.NoError(t, reloaded.Load(ctx))

	got, err := reloaded.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.Student, got.Class)
	assert.Empty(t, got.FavoriteGenres)
	assert.Equal(t, 3, got.Version)

	_, _, err = reloaded.Authenticate(ctx, "a@example.org", "correct horse")
	assert.NoError(t, err, "credentials are replayed")

	_, err = reloaded.RegisterMember(ctx, NewMember{Email: "a@example.org", Name: "A", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	register(t, reloaded, "b@example.org")
}

func TestHandlerLoginAndErrors(t *testing.T) {
	s, _ := newTestService(t)
	h := NewHandler(s)
	r := chi.NewRouter()
	r.Post("/login", h.HandleLogin)
	r.Route("/members", h.Routes)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/members", `{"email":"a@example.org","name":"A","password":"correct horse","favorite_genres":["poetry"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m Member
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))

	rec = do(http.MethodPost, "/members", `{"email":"a@example.org","name":"A","password":"correct horse"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(http.MethodPost, "/members", `{"email":"b@example.org","name":"B","password":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodPost, "/login", `{"email":"a@example.org","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)

	rec = do(http.MethodPost, "/login", `{"email":"a@example.org","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodPatch, "/members/"+m.ID.String(), `{"class":"premium","active":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"class":"premium"`)
	assert.Contains(t, rec.Body.String(), `"active":false`)

	rec = do(http.MethodGet, "/members/"+uuidOf("missing").String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(http.MethodGet, "/members/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoles(t *testing.T) {
	s, _ := newTestService(t, WithAdmins(" Desk@Example.org "))
	ctx := context.Background()

	desk := register(t, s, "desk@example.org")
	assert.Equal(t, RoleAdmin, desk.Role)
	reader := register(t, s, "reader@example.org")
	assert.Equal(t, RoleMember, reader.Role)

	token, _, err := s.Authenticate(ctx, "reader@example.org", "correct horse")
	require.NoError(t, err)
	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, claims.Role)

	_, err = s.SetRole(ctx, reader.ID, "Admin")
	require.NoError(t, err)
	claims, err = s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role, "claims follow the member, not the token")

	_, err = s.SetRole(ctx, reader.ID, "owner")
	assert.ErrorIs(t, err, ErrUnknownRole)

	updated, err := s.SetRole(ctx, desk.ID, RoleMember)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, updated.Role, "configured admins keep the role")
}

func TestRestrictedHandler(t *testing.T) {
	s, _ := newTestService(t)
	reader := register(t, s, "reader@example.org")
	other := register(t, s, "other@example.org")
	h := NewHandler(s).RestrictToAdmins()
	r := chi.NewRouter()
	r.Route("/members", h.Routes)

	do := func(claims *Claims, method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if claims != nil {
			req = req.WithContext(ContextWithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	self := &Claims{MemberID: reader.ID, Role: RoleMember}
	admin := &Claims{MemberID: other.ID, Role: RoleAdmin}

	assert.Equal(t, http.StatusForbidden, do(self, http.MethodPatch, "/members/"+reader.ID.String(), `{"class":"premium"}`))
	assert.Equal(t, http.StatusForbidden, do(self, http.MethodPatch, "/members/"+other.ID.String(), `{"favorite_genres":["crime"]}`))
	assert.Equal(t, http.StatusForbidden, do(nil, http.MethodPost, "/members", `{"email":"c@example.org","name":"C","password":"correct horse","role":"admin"}`))
	assert.Equal(t, http.StatusCreated, do(nil, http.MethodPost, "/members", `{"email":"d@example.org","name":"D","password":"correct horse","class":"standard"}`))

	assert.Equal(t, http.StatusOK, do(self, http.MethodPatch, "/members/"+reader.ID.String(), `{"favorite_genres":["crime"]}`))
	assert.Equal(t, http.StatusOK, do(admin, http.MethodPatch, "/members/"+reader.ID.String(), `{"class":"premium","active":false}`))

	class, _ := s.AccountClass(reader.ID)
	assert.Equal(t, policy.Premium, class)
	assert.False(t, s.IsActive(reader.ID))
}
