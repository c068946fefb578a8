package persistence

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// legacyEnrollmentsDDL is the enrollments table as shipped in the first
// release, before the approval and dashboard columns existed.
const legacyEnrollmentsDDL = `
    CREATE TABLE enrollments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        full_name TEXT NOT NULL,
        tech_id TEXT NOT NULL,
        district TEXT,
        state TEXT,
        referred_by TEXT,
        industries TEXT,
        year TEXT,
        make TEXT,
        model TEXT,
        vin TEXT,
        insurance_exp TEXT,
        registration_exp TEXT,
        template_used TEXT,
        comment TEXT,
        submission_date TEXT
    )`

func TestSQLiteSchemaMigrationUpgradesLegacyDatabase(t *testing.T) {
	cfg := Config{DataDir: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.SQLitePath()), 0o755))

	legacy, err := sql.Open("sqlite", "file:"+cfg.SQLitePath())
	require.NoError(t, err)
	_, err = legacy.Exec(legacyEnrollmentsDDL)
	require.NoError(t, err)
	_, err = legacy.Exec(`
        INSERT INTO enrollments (full_name, tech_id, industries, submission_date)
        VALUES ('Sam Okafor', 'T-1100', '["plumbing"]', '2025-07-01T12:00:00.000000Z')`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := NewSQLiteStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema maintenance must be idempotent")

	rec, err := store.GetEnrollmentByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Sam Okafor", rec.FullName, "existing rows survive the upgrade")
	require.Equal(t, 0, rec.Approved)
	require.Nil(t, rec.ApprovedAt)
	require.Equal(t, []string{"plumbing"}, rec.Industry, "industry backfilled from industries")

	// The new columns are live, not just present.
	require.NoError(t, store.ApproveEnrollment(ctx, 1, "admin@example.com"))
	rec, err = store.GetEnrollmentByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, rec.Approved)

	// Tables beyond enrollments were created from scratch.
	ruleID, err := store.AddNotificationRule(ctx, NotificationRule{
		RuleName: "New enrollment", Trigger: TriggerNewEnrollment, Enabled: 1,
	})
	require.NoError(t, err)
	require.NoError(t, store.LogNotificationSent(ctx, 1, ruleID))
	require.NoError(t, store.LogNotificationSent(ctx, 1, ruleID))
	sent, err := store.GetSentNotificationsForEnrollment(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sent, 1)
}

func TestSQLiteMigrationDoesNotOverwriteExistingIndustry(t *testing.T) {
	cfg := Config{DataDir: t.TempDir()}
	store, err := NewSQLiteStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	rec := sampleEnrollment()
	rec.Industries = []string{"hvac"}
	id, err := store.InsertEnrollment(ctx, rec)
	require.NoError(t, err)

	// Diverge the columns by hand, then rerun schema maintenance. Backfill
	// only targets rows whose industry is still empty.
	_, err = store.db.Exec(`UPDATE enrollments SET industry = '["electrical"]' WHERE id = ?`, id)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	got, err := store.GetEnrollmentByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"electrical"}, got.Industry)
}
