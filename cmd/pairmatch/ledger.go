package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/imaddar/pair-match/internal/config"
	"github.com/imaddar/pair-match/internal/gamerunner"
	"github.com/imaddar/pair-match/internal/persistence"
	"github.com/imaddar/pair-match/internal/statemachine"
)

const dbOpenTimeout = 10 * time.Second

// openRepository opens and migrates the configured ledger backend. The
// returned close func is never nil.
func openRepository(ctx context.Context, cfg config.Config) (persistence.Repository, func() error, error) {
	noop := func() error { return nil }

	ctx, cancel := context.WithTimeout(ctx, dbOpenTimeout)
	defer cancel()

	switch cfg.DBDriver {
	case config.DriverMemory:
		return persistence.NewInMemoryRepository(), noop, nil
	case config.DriverPostgres:
		if !hasSQLDriver("postgres") {
			return nil, noop, fmt.Errorf("postgres SQL driver is not linked")
		}
		db, err := sql.Open("postgres", cfg.DBURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("database ping: %w", err)
		}
		if err := persistence.MigratePostgres(ctx, db); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("database migration: %w", err)
		}
		return persistence.NewPostgresRepository(db), db.Close, nil
	case config.DriverSQLite:
		db, err := persistence.OpenSQLite(ctx, cfg.DBURL)
		if err != nil {
			return nil, noop, err
		}
		if err := persistence.MigrateSQLite(ctx, db); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("database migration: %w", err)
		}
		return persistence.NewSQLiteRepository(db), db.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: unknown db driver %q", config.ErrInvalidConfig, cfg.DBDriver)
	}
}

func hasSQLDriver(name string) bool {
	for _, driver := range sql.Drivers() {
		if driver == name {
			return true
		}
	}
	return false
}

// ledgerHooks records every session a Runner plays. With a nil repository
// all hooks are no-ops.
type ledgerHooks struct {
	repo   persistence.Repository
	source string
	logger *slog.Logger

	ledger *persistence.Ledger
	last   statemachine.Session
}

func newLedgerHooks(repo persistence.Repository, source string, logger *slog.Logger) *ledgerHooks {
	return &ledgerHooks{repo: repo, source: source, logger: logger}
}

func (h *ledgerHooks) install(cfg *gamerunner.RunnerConfig) {
	cfg.OnSessionStart = h.start
	cfg.OnStep = h.step
}

func (h *ledgerHooks) start(session statemachine.Session) {
	h.last = session
	if h.repo == nil {
		return
	}
	h.ledger = persistence.NewLedger(h.repo, h.source)
	if err := h.ledger.Start(context.Background(), session); err != nil {
		h.logger.Error("record session start", "session_id", session.ID, "error", err)
		h.ledger = nil
	}
}

func (h *ledgerHooks) step(event gamerunner.StepEvent) {
	h.last = event.Session
	if h.ledger == nil {
		return
	}
	if err := h.ledger.Step(context.Background(), event.Session, event.Step, event.Fallback); err != nil {
		h.logger.Error("record session step", "session_id", event.Session.ID, "error", err)
	}
}

// finish closes the ledger entry of the session that was in play when the
// runner stopped. cause is nil when the player quit.
func (h *ledgerHooks) finish(cause error) {
	if h.ledger == nil {
		return
	}
	if err := h.ledger.Close(context.Background(), h.last, cause); err != nil {
		h.logger.Error("record session end", "session_id", h.last.ID, "error", err)
	}
}
