// Package app wires the process together: config, database, engine and the
// report driver share one bootstrap so the CLI and the server start the same
// stack.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"gacpline/internal/config"
	"gacpline/internal/db"
	"gacpline/internal/engine"
	"gacpline/internal/migrate"
	"gacpline/internal/repo"
	"gacpline/internal/reports"
	"gacpline/internal/retry"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Reports   *reports.Driver
	Log       zerolog.Logger
}

// NewLogger builds the process logger. Human-readable console output; the
// level comes from GACPLINE_LOG_LEVEL and defaults to info.
func NewLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("GACPLINE_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Bootstrap loads config, connects the database with the shared retry policy,
// applies migrations and builds the engine and report driver.
func Bootstrap(ctx context.Context, workspace string) (*App, error) {
	log := NewLogger()
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	policy := retry.FromConfig(cfg)
	conn, err := db.Connect(ctx, db.Config{Workspace: workspace}, policy)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	drv := reports.New(conn, cfg, log.With().Str("component", "reports").Logger())
	reportsDir := filepath.Join(workspace, ".gacpline", "reports")
	drv.Register(reports.TypeStateSummary, reports.StateSummaryGenerator{Repo: repo.Repo{DB: conn}, Dir: reportsDir})
	drv.Register(reports.TypeCertifications, reports.CertificationsGenerator{Repo: repo.Repo{DB: conn}, Dir: reportsDir})
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Reports:   drv,
		Log:       log,
	}, nil
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// StartMaintenance runs the periodic driver: each tick runs due reports and
// expires overdue payments and lapsed certificates. Returns immediately; the
// loop stops when ctx is cancelled.
func (a *App) StartMaintenance(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			a.maintain(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (a *App) maintain(ctx context.Context) {
	if ran, err := a.Reports.ProcessDue(ctx); err != nil {
		a.Log.Error().Err(err).Msg("report sweep failed")
	} else if len(ran) > 0 {
		a.Log.Info().Strs("report_ids", ran).Msg("reports run")
	}
	if expired, err := a.Engine.SweepExpiredPayments(ctx); err != nil {
		a.Log.Error().Err(err).Msg("payment sweep failed")
	} else if len(expired) > 0 {
		a.Log.Info().Strs("application_ids", expired).Msg("payment deadlines expired")
	}
	if expired, err := a.Engine.SweepExpiredCertificates(ctx); err != nil {
		a.Log.Error().Err(err).Msg("certificate sweep failed")
	} else if len(expired) > 0 {
		a.Log.Info().Strs("application_ids", expired).Msg("certificates expired")
	}
}
