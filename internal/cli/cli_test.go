package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circdesk/internal/catalog"
	"circdesk/internal/circulation"
	"circdesk/internal/clients"
	"circdesk/internal/clock"
	"circdesk/internal/config"
	"circdesk/internal/membership"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "circdesk.db")
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startApp(t *testing.T, cfg config.Config, clk clock.Clock) (*app, *clients.Client) {
	t.Helper()
	a, err := newApp(context.Background(), cfg, discardLogger(), clk)
	require.NoError(t, err)
	ts := httptest.NewServer(a.server.Handler())
	t.Cleanup(ts.Close)
	return a, clients.New(ts.URL, "")
}

func TestAppRecoversAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	clk := clock.NewFixed(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	// setup
	first, base := startApp(t, cfg, clk)
	members := clients.NewMembershipClient(base)
	alice, err := members.RegisterMember(ctx, membership.NewMember{Email: "alice@example.org", Name: "Alice", Password: "correct horse"})
	require.NoError(t, err)
	bob, err := members.RegisterMember(ctx, membership.NewMember{Email: "bob@example.org", Name: "Bob", Password: "correct horse"})
	require.NoError(t, err)
	cat := clients.NewCatalogClient(base)
	dune, err := cat.AddItem(ctx, catalog.NewEntry{Title: "Dune", ISBN: "0441013597", Pages: 412})
	require.NoError(t, err)
	emma, err := cat.AddItem(ctx, catalog.NewEntry{Title: "Emma", ISBN: "0141439580", Pages: 474})
	require.NoError(t, err)

	circ := clients.NewCirculationClient(base)
	_, err = circ.Borrow(ctx, alice.ID, dune.ID)
	require.NoError(t, err)
	require.NoError(t, first.saveSnapshot(ctx))

	// act: these only reach the journal, not the snapshot
	_, err = circ.Reserve(ctx, bob.ID, dune.ID)
	require.NoError(t, err)
	_, err = circ.Borrow(ctx, bob.ID, emma.ID)
	require.NoError(t, err)
	want := first.engine.Snapshot()
	first.close()

	second, base2 := startApp(t, cfg, clk)
	defer second.close()

	// assert
	got := second.engine.Snapshot()
	assert.Equal(t, want.Seq, got.Seq)
	assert.Equal(t, want.Loans, got.Loans)
	assert.Len(t, second.engine.OpenLoans(), 2)
	it, err := second.engine.Item(dune.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusBorrowed, it.Status)
	assert.Equal(t, 1, it.Queue.Len())

	token, _, err := clients.NewMembershipClient(base2).Login(ctx, "alice@example.org", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	found, err := clients.NewCatalogClient(base2).Search(ctx, "emma")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	result := second.auditor.RunOnce(ctx)
	assert.True(t, result.Healthy, "violations: %v", result.Violations)
}

func TestAppWithoutDatabase(t *testing.T) {
	cfg := config.DefaultConfig()
	a, err := newApp(context.Background(), cfg, discardLogger(), clock.System{})
	require.NoError(t, err)
	defer a.close()
	assert.Nil(t, a.store)
	assert.Len(t, a.auditor.Probes(), 3)
	assert.NoError(t, a.saveSnapshot(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, discardLogger(), clock.System{})
	require.NoError(t, err)
	defer a.close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, ln) }()

	_, err = clients.NewMembershipClient(clients.New("http://"+ln.Addr().String(), "")).
		RegisterMember(context.Background(), membership.NewMember{Email: "c@example.org", Name: "C", Password: "correct horse"})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestClientCommands(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	a, err := newApp(context.Background(), cfg, discardLogger(), clock.System{})
	require.NoError(t, err)
	ts := httptest.NewServer(a.server.Handler())
	defer ts.Close()
	srv := "--server=" + ts.URL

	out, err := execute(t, "register", srv, "--email", "dana@example.org", "--name", "Dana", "--password", "correct horse", "--genre", "poetry")
	require.NoError(t, err)
	assert.Contains(t, out, "dana@example.org")
	dana := a.members.ListMembers(context.Background())[0]

	token, err := execute(t, "login", srv, "dana@example.org", "--password", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(token))

	out, err = execute(t, "catalog", "add", srv, "--title", "Leaves of Grass", "--isbn", "0140421998", "--genre", "poetry", "--pages", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "Leaves of Grass")
	item := a.catalog.List(context.Background())[0]

	out, err = execute(t, "borrow", srv, dana.ID.String(), item.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Opened loan")

	out, err = execute(t, "loans", srv)
	require.NoError(t, err)
	assert.Contains(t, out, item.ID.String())

	out, err = execute(t, "notifications", srv, dana.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "new_arrival")

	out, err = execute(t, "return", srv, dana.ID.String(), item.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Closed loan")

	out, err = execute(t, "top", srv, "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, item.ID.String())

	_, err = execute(t, "borrow", srv, "not-a-uuid", item.ID.String())
	assert.ErrorContains(t, err, "invalid patron id")

	_, err = execute(t, "status", srv, item.ID.String(), "shelved")
	assert.ErrorContains(t, err, "unknown status")
}

func TestAuditCommand(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "circdesk.db")
	cfgPath := filepath.Join(dir, "circdesk.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[database]\ndsn = \""+filepath.ToSlash(dsn)+"\"\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.Database.DSN = dsn
	a, base := startApp(t, cfg, clock.System{})
	m, err := clients.NewMembershipClient(base).RegisterMember(context.Background(),
		membership.NewMember{Email: "eve@example.org", Name: "Eve", Password: "correct horse"})
	require.NoError(t, err)
	entry, err := clients.NewCatalogClient(base).AddItem(context.Background(), catalog.NewEntry{Title: "Dune", ISBN: "0441013597"})
	require.NoError(t, err)
	_, err = clients.NewCirculationClient(base).Borrow(context.Background(), m.ID, entry.ID)
	require.NoError(t, err)
	a.close()

	out, err := execute(t, "audit", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "journal_drift_items")
	assert.Contains(t, out, "double_loaned_items")
}
