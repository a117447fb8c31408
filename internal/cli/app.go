package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"circdesk/internal/audit"
	"circdesk/internal/catalog"
	"circdesk/internal/circulation"
	"circdesk/internal/clock"
	"circdesk/internal/config"
	"circdesk/internal/db"
	"circdesk/internal/membership"
	"circdesk/internal/notify"
	"circdesk/internal/server"
	"circdesk/pkg/eventstore"
)

// app is one assembled circdesk server.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	db      *sqlx.DB
	store   *eventstore.EventStore
	journal *circulation.EventStoreJournal

	catalog    catalog.Service
	members    membership.Service
	dispatcher *notify.Dispatcher
	engine     *circulation.Engine
	auditor    *audit.Auditor
	server     *server.Server
}

// newApp wires the services together. With a database configured, members
// and the catalogue are replayed from the journal and the engine is restored
// from its last snapshot plus the journal tail written after it.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, clk clock.Clock) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Database.DSN != "" {
		conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(conn); err != nil {
			conn.Close()
			return nil, err
		}
		a.db = conn
		a.store = eventstore.NewEventStore(conn)
		a.journal = circulation.NewEventStoreJournal(a.store)
	} else {
		logger.Warn("no database configured, nothing will survive a restart")
	}

	memberOpts := []membership.Option{
		membership.WithClock(clk),
		membership.WithLogger(logger),
		membership.WithTokenTTL(cfg.Auth.TokenTTL),
		membership.WithMaxLoginAttempts(cfg.Auth.MaxLoginAttempts),
		membership.WithLockout(cfg.Auth.Lockout),
		membership.WithAdmins(cfg.Auth.AdminEmails...),
	}
	if cfg.Auth.JWTSecret != "" {
		memberOpts = append(memberOpts, membership.WithSecret(cfg.Auth.JWTSecret))
	}
	catalogOpts := []catalog.Option{catalog.WithClock(clk), catalog.WithLogger(logger)}
	engineOpts := []circulation.Option{
		circulation.WithClock(clk),
		circulation.WithPolicy(cfg.LendingPolicy()),
		circulation.WithLogger(logger),
	}
	if a.store != nil {
		memberOpts = append(memberOpts, membership.WithEventStore(a.store))
		catalogOpts = append(catalogOpts, catalog.WithEventStore(a.store))
		engineOpts = append(engineOpts, circulation.WithJournal(a.journal))
	}

	a.members = membership.NewService(memberOpts...)
	a.catalog = catalog.NewService(catalogOpts...)
	if err := a.members.Load(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	if err := a.catalog.Load(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	a.dispatcher = notify.NewDispatcher(clk, notify.WithGenreIndex(a.members), notify.WithLogger(logger))
	a.engine = circulation.New(a.catalog, a.members, a.dispatcher, engineOpts...)
	if a.store != nil {
		if err := a.recoverCirculation(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	registered, err := server.Reconcile(ctx, a.catalog, a.engine)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to reconcile catalogue with circulation: %w", err)
	}
	if registered > 0 {
		logger.Warn("catalogued items were missing from circulation", "registered", registered)
	}
	server.ConnectArrivals(a.catalog, a.engine, a.dispatcher, logger)

	a.auditor = audit.NewAuditor(audit.WithClock(clk), audit.WithLogger(logger))
	a.auditor.Register(audit.EngineProbes(a.engine)...)
	if a.store != nil {
		a.auditor.Register(audit.JournalDriftProbe(a.engine, a.store))
	}

	a.server = server.New(server.Deps{
		Circulation: a.engine,
		Catalog:     a.catalog,
		Members:     a.members,
		Dispatcher:  a.dispatcher,
		Auditor:     a.auditor,
		Clock:       clk,
		Logger:      logger,
	})
	a.server.EnableMetrics()
	if cfg.Auth.RequireAuth {
		a.server.RequireAuth()
		if len(cfg.Auth.AdminEmails) == 0 {
			logger.Warn("authentication required but no admin emails configured; member classes and standing cannot be changed over the API")
		}
	}
	return a, nil
}

func (a *app) recoverCirculation(ctx context.Context) error {
	var after int64
	state, err := circulation.LoadState(ctx, a.store)
	switch {
	case errors.Is(err, circulation.ErrNoSnapshot):
	case err != nil:
		return fmt.Errorf("failed to load circulation snapshot: %w", err)
	default:
		if err := a.engine.Restore(state); err != nil {
			return err
		}
		after = state.Seq
	}

	tail, err := a.journal.Entries(ctx, after)
	if err != nil {
		return err
	}
	replayed, err := a.engine.Replay(tail)
	if err != nil {
		return fmt.Errorf("failed to replay circulation journal: %w", err)
	}
	a.logger.Info("circulation state recovered", "snapshot_seq", after, "replayed", replayed)
	return nil
}

func (a *app) saveSnapshot(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	state := a.engine.Snapshot()
	if err := circulation.SaveState(ctx, a.store, state); err != nil {
		return fmt.Errorf("failed to save circulation snapshot: %w", err)
	}
	a.logger.Debug("circulation snapshot saved", "seq", state.Seq)
	return nil
}

// run serves the API on ln and runs the background loops until ctx is
// cancelled, then drains requests and writes a final snapshot.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	loops, stop := context.WithCancel(ctx)
	defer stop()
	go a.every(loops, "sweep", a.cfg.Notify.SweepInterval, func(ctx context.Context) error {
		a.engine.Sweep(ctx)
		return nil
	})
	go a.auditor.Run(loops, a.cfg.Audit.Interval)
	if a.store != nil {
		go a.every(loops, "snapshot", a.cfg.Database.SnapshotInterval, a.saveSnapshot)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("circdesk listening", "addr", ln.Addr().String())
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}
	return a.saveSnapshot(shutdownCtx)
}

func (a *app) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				a.logger.Error("background task failed", "task", name, "error", err)
			}
		}
	}
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}
