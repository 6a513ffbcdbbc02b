package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gacpline/internal/config"
	"gacpline/internal/db"
	"gacpline/internal/domain"
	"gacpline/internal/engine"
	"gacpline/internal/migrate"
	"gacpline/internal/reports"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	return &App{
		Workspace: dir,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg),
		Reports:   reports.New(conn, cfg, zerolog.Nop()),
		Log:       zerolog.Nop(),
	}
}

func TestMaintenanceLoopRunsDueReports(t *testing.T) {
	a := newTestApp(t)
	generated := make(chan struct{}, 1)
	a.Reports.Register("heartbeat", reports.GeneratorFunc(func(ctx context.Context, rep domain.ScheduledReport) error {
		select {
		case generated <- struct{}{}:
		default:
		}
		return nil
	}))
	rep, err := a.Reports.Schedule(context.Background(), "heartbeat", domain.ScheduleOnce, "")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartMaintenance(ctx, 5*time.Millisecond)

	select {
	case <-generated:
	case <-time.After(5 * time.Second):
		t.Fatalf("maintenance loop never ran the due report")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		done, err := a.Reports.Repo.GetReport(context.Background(), rep.ID)
		if err != nil {
			t.Fatal(err)
		}
		if done.Status == domain.ReportCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("report status = %s, want completed", done.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
