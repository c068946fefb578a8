package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	sqlassets "github.com/hsfleet/byov-enrollment/database"
)

// enrollmentColumnDefs lists the columns added after the first schema
// release. EnsureSchema adds any that are missing from older databases.
var enrollmentColumnDefs = []struct {
	name         string
	postgresType string
	sqliteType   string
}{
	{"industry", "JSONB DEFAULT '[]'", "TEXT DEFAULT '[]'"},
	{"approved", "INTEGER DEFAULT 0", "INTEGER DEFAULT 0"},
	{"approved_at", "TIMESTAMPTZ", "TEXT"},
	{"approved_by", "TEXT", "TEXT"},
	{"dashboard_tech_id", "TEXT", "TEXT"},
	{"last_upload_report", "JSONB", "TEXT"},
}

const pgEnrollmentSelect = `
    SELECT id, full_name, tech_id,
        COALESCE(district, ''), COALESCE(state, ''), COALESCE(referred_by, ''),
        COALESCE(industries::text, '[]'), COALESCE(industry::text, '[]'),
        COALESCE(year, ''), COALESCE(make, ''), COALESCE(model, ''), COALESCE(vin, ''),
        COALESCE(insurance_exp, ''), COALESCE(registration_exp, ''),
        COALESCE(template_used, ''), COALESCE(comment, ''),
        COALESCE(submission_date::text, ''), COALESCE(approved, 0),
        approved_at::text, approved_by, dashboard_tech_id, last_upload_report::text
    FROM enrollments`

const pgEnrollmentInsert = `
    INSERT INTO enrollments (
        full_name, tech_id, district, state, referred_by, industries, industry,
        year, make, model, vin, insurance_exp, registration_exp, template_used,
        comment, submission_date, approved, approved_at, approved_by,
        dashboard_tech_id, last_upload_report
    ) VALUES (
        $1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12, $13,
        $14, $15, $16::timestamptz, $17, $18::timestamptz, $19, $20, $21::jsonb
    )
    RETURNING id`

// PostgresStore persists enrollments in a networked PostgreSQL database.
// Transient connection failures are retried; reads of the full enrollment
// list degrade to the on-disk fallback document when the database stays
// unreachable.
type PostgresStore struct {
	pool     *pgxpool.Pool
	fallback *fallbackDocument
	logger   *zap.Logger
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ ChecklistStore = (*PostgresStore)(nil)
)

// NewPostgresStore connects to the server named by cfg.DatabaseURL, retrying
// transient connection failures.
func NewPostgresStore(ctx context.Context, cfg Config, logger *zap.Logger) (*PostgresStore, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database url is required")
	}

	var pool *pgxpool.Pool
	err := withRetry(ctx, func() error {
		p, err := NewPool(ctx, PoolConfig{ConnString: cfg.DatabaseURL})
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &PostgresStore{
		pool:     pool,
		fallback: newFallbackDocument(cfg.FallbackPath(), logger),
		logger:   logger,
	}, nil
}

// EnsureSchema creates missing tables, adds columns introduced after the
// first release, backfills the industry column, and installs the notification
// dedup index. Additive steps that fail are logged and skipped so one bad
// step cannot block startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{sqlassets.PostgresCoreSQL, sqlassets.PostgresChecklistSQL} {
		for _, stmt := range splitStatements(ddl) {
			if _, err := s.exec(ctx, stmt); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}
		}
	}

	existing, err := s.enrollmentColumnSet(ctx)
	if err != nil {
		return fmt.Errorf("inspect enrollments schema: %w", err)
	}
	for _, def := range enrollmentColumnDefs {
		if _, ok := existing[def.name]; ok {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE enrollments ADD COLUMN %s %s", def.name, def.postgresType)
		if _, err := s.exec(ctx, alter); err != nil {
			s.logger.Warn("add enrollment column", zap.String("column", def.name), zap.Error(err))
			continue
		}
		s.logger.Info("added enrollment column", zap.String("column", def.name))
	}

	backfill := `
        UPDATE enrollments SET industry = industries
        WHERE industries IS NOT NULL
          AND (industry IS NULL OR industry = '[]'::jsonb)
          AND industries != '[]'::jsonb`
	if _, err := s.exec(ctx, backfill); err != nil {
		s.logger.Warn("backfill industry column", zap.Error(err))
	}

	dedupIndex := `
        CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_sent_unique
        ON notifications_sent (enrollment_id, rule_id)`
	if _, err := s.exec(ctx, dedupIndex); err != nil {
		// Pre-existing duplicate rows make index creation fail; dedup then
		// still happens through the conflict-free insert path.
		s.logger.Warn("create notification dedup index", zap.Error(err))
	}

	return nil
}

func (s *PostgresStore) enrollmentColumnSet(ctx context.Context) (map[string]struct{}, error) {
	const query = `
        SELECT column_name FROM information_schema.columns
        WHERE table_name = 'enrollments'`

	cols := map[string]struct{}{}
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			cols[name] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// InsertEnrollment stores a new enrollment and returns its assigned id.
func (s *PostgresStore) InsertEnrollment(ctx context.Context, rec Enrollment) (int64, error) {
	applyEnrollmentDefaults(&rec)

	var id int64
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx, pgEnrollmentInsert, pgEnrollmentInsertArgs(rec)...).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert enrollment: %w", err)
	}
	return id, nil
}

// CreateEnrollmentWithDocuments stores an enrollment and its documents in one
// transaction.
func (s *PostgresStore) CreateEnrollmentWithDocuments(ctx context.Context, rec Enrollment, docs []Document) (int64, error) {
	applyEnrollmentDefaults(&rec)

	var id int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, pgEnrollmentInsert, pgEnrollmentInsertArgs(rec)...).Scan(&id); err != nil {
			return err
		}
		for _, doc := range docs {
			_, err := tx.Exec(ctx,
				"INSERT INTO documents (enrollment_id, doc_type, file_path) VALUES ($1, $2, $3)",
				id, doc.DocType, doc.FilePath)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create enrollment with documents: %w", err)
	}
	return id, nil
}

func pgEnrollmentInsertArgs(rec Enrollment) []any {
	tags := encodeTags(rec.Industries)
	var report *string
	if len(rec.LastUploadReport) > 0 {
		v := string(rec.LastUploadReport)
		report = &v
	}
	return []any{
		rec.FullName, rec.TechID, rec.District, rec.State, rec.ReferredBy,
		tags, tags, rec.Year, rec.Make, rec.Model, rec.VIN,
		rec.InsuranceExp, rec.RegistrationExp, rec.TemplateUsed, rec.Comment,
		rec.SubmissionDate, rec.Approved, rec.ApprovedAt, rec.ApprovedBy,
		rec.DashboardTechID, report,
	}
}

// GetAllEnrollments returns every enrollment, newest first, with documents
// attached. If the database remains unreachable after retries the enrollment
// list is served from the fallback document instead.
func (s *PostgresStore) GetAllEnrollments(ctx context.Context) ([]Enrollment, error) {
	var out []Enrollment
	err := withRetry(ctx, func() error {
		recs, err := s.queryEnrollments(ctx, " ORDER BY submission_date DESC, id DESC")
		if err != nil {
			return err
		}
		out = recs
		return nil
	})
	if err != nil {
		s.logger.Warn("enrollment query failed; serving fallback document", zap.Error(err))
		return s.fallback.Enrollments()
	}
	return out, nil
}

func (s *PostgresStore) queryEnrollments(ctx context.Context, suffix string, args ...any) ([]Enrollment, error) {
	rows, err := s.pool.Query(ctx, pgEnrollmentSelect+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Enrollment{}
	for rows.Next() {
		rec, err := scanPgEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) > 0 {
		if err := s.attachDocuments(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) attachDocuments(ctx context.Context, recs []Enrollment) error {
	rows, err := s.pool.Query(ctx,
		"SELECT id, enrollment_id, doc_type, file_path FROM documents ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	byEnrollment := map[int64][]Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.EnrollmentID, &doc.DocType, &doc.FilePath); err != nil {
			return err
		}
		byEnrollment[doc.EnrollmentID] = append(byEnrollment[doc.EnrollmentID], doc)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range recs {
		recs[i].Documents = byEnrollment[recs[i].ID]
	}
	return nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanPgEnrollment(row pgRow) (Enrollment, error) {
	var rec Enrollment
	var industries, industry string
	var report *string
	err := row.Scan(
		&rec.ID, &rec.FullName, &rec.TechID,
		&rec.District, &rec.State, &rec.ReferredBy,
		&industries, &industry,
		&rec.Year, &rec.Make, &rec.Model, &rec.VIN,
		&rec.InsuranceExp, &rec.RegistrationExp,
		&rec.TemplateUsed, &rec.Comment,
		&rec.SubmissionDate, &rec.Approved,
		&rec.ApprovedAt, &rec.ApprovedBy, &rec.DashboardTechID, &report,
	)
	if err != nil {
		return Enrollment{}, err
	}
	rec.Industries = decodeTags(industries)
	rec.Industry = decodeTags(industry)
	if report != nil {
		rec.LastUploadReport = json.RawMessage(*report)
	}
	return rec, nil
}

// GetEnrollmentByID returns one enrollment with documents attached.
func (s *PostgresStore) GetEnrollmentByID(ctx context.Context, id int64) (Enrollment, error) {
	var rec Enrollment
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, pgEnrollmentSelect+" WHERE id = $1", id)
		out, err := scanPgEnrollment(row)
		if err != nil {
			return err
		}
		docs, err := s.GetDocumentsForEnrollment(ctx, id)
		if err != nil {
			return err
		}
		out.Documents = docs
		rec = out
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Enrollment{}, ErrNotFound
	}
	if err != nil {
		return Enrollment{}, fmt.Errorf("get enrollment %d: %w", id, err)
	}
	return rec, nil
}

// UpdateEnrollment applies a partial update. Unknown fields are rejected
// before any write happens.
func (s *PostgresStore) UpdateEnrollment(ctx context.Context, id int64, updates map[string]any) error {
	cols, vals, err := normalizeEnrollmentUpdates(updates)
	if err != nil {
		return err
	}

	assignments := make([]string, 0, len(cols))
	for i, col := range cols {
		assignments = append(assignments, fmt.Sprintf("%s = $%d%s", col, i+1, pgColumnCast(col)))
	}
	query := fmt.Sprintf("UPDATE enrollments SET %s WHERE id = $%d",
		strings.Join(assignments, ", "), len(cols)+1)
	vals = append(vals, id)

	tag, err := s.exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("update enrollment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// pgColumnCast supplies the cast needed when binding text parameters into
// typed columns.
func pgColumnCast(col string) string {
	switch col {
	case "industries", "industry", "last_upload_report":
		return "::jsonb"
	case "submission_date", "approved_at":
		return "::timestamptz"
	default:
		return ""
	}
}

// DeleteEnrollment removes an enrollment and every dependent row in one
// transaction.
func (s *PostgresStore) DeleteEnrollment(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM notifications_sent WHERE enrollment_id = $1",
			"DELETE FROM enrollment_checklist WHERE enrollment_id = $1",
			"DELETE FROM documents WHERE enrollment_id = $1",
		} {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, "DELETE FROM enrollments WHERE id = $1", id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete enrollment %d: %w", id, err)
	}
	return nil
}

// ApproveEnrollment marks an enrollment approved. Re-approving refreshes the
// timestamp and actor but is otherwise a no-op.
func (s *PostgresStore) ApproveEnrollment(ctx context.Context, id int64, approvedBy string) error {
	tag, err := s.exec(ctx,
		"UPDATE enrollments SET approved = 1, approved_at = CURRENT_TIMESTAMP, approved_by = $1 WHERE id = $2",
		approvedBy, id)
	if err != nil {
		return fmt.Errorf("approve enrollment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDashboardSyncInfo stores dashboard bookkeeping after an external sync.
// This is the one soft-failure write: errors are logged and swallowed so a
// bookkeeping failure never aborts the sync that already happened.
func (s *PostgresStore) SetDashboardSyncInfo(ctx context.Context, id int64, dashboardTechID *string, uploadReport any) {
	updates := map[string]any{}
	if dashboardTechID != nil {
		updates["dashboard_tech_id"] = *dashboardTechID
	}
	if uploadReport != nil {
		updates["last_upload_report"] = uploadReport
	}
	if len(updates) == 0 {
		return
	}
	if err := s.UpdateEnrollment(ctx, id, updates); err != nil {
		s.logger.Warn("record dashboard sync info",
			zap.Int64("enrollment_id", id), zap.Error(err))
	}
}

// AddDocument attaches a document to an enrollment.
func (s *PostgresStore) AddDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			"INSERT INTO documents (enrollment_id, doc_type, file_path) VALUES ($1, $2, $3) RETURNING id",
			doc.EnrollmentID, doc.DocType, doc.FilePath).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("add document: %w", err)
	}
	return id, nil
}

// GetDocumentsForEnrollment lists an enrollment's documents in insert order.
func (s *PostgresStore) GetDocumentsForEnrollment(ctx context.Context, enrollmentID int64) ([]Document, error) {
	var out []Document
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			"SELECT id, enrollment_id, doc_type, file_path FROM documents WHERE enrollment_id = $1 ORDER BY id",
			enrollmentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		docs := []Document{}
		for rows.Next() {
			var doc Document
			if err := rows.Scan(&doc.ID, &doc.EnrollmentID, &doc.DocType, &doc.FilePath); err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = docs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get documents for enrollment %d: %w", enrollmentID, err)
	}
	return out, nil
}

// DeleteDocumentsForEnrollment removes all documents for an enrollment.
func (s *PostgresStore) DeleteDocumentsForEnrollment(ctx context.Context, enrollmentID int64) error {
	if _, err := s.exec(ctx, "DELETE FROM documents WHERE enrollment_id = $1", enrollmentID); err != nil {
		return fmt.Errorf("delete documents for enrollment %d: %w", enrollmentID, err)
	}
	return nil
}

// AddNotificationRule stores a new rule and returns its assigned id.
func (s *PostgresStore) AddNotificationRule(ctx context.Context, rule NotificationRule) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO notification_rules (rule_name, "trigger", days_before, recipients, enabled)
             VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			rule.RuleName, rule.Trigger, rule.DaysBefore, encodeRecipients(rule.Recipients), rule.Enabled).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("add notification rule: %w", err)
	}
	return id, nil
}

// GetNotificationRules lists all rules, newest first.
func (s *PostgresStore) GetNotificationRules(ctx context.Context) ([]NotificationRule, error) {
	var out []NotificationRule
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, rule_name, "trigger", days_before, COALESCE(recipients, ''), COALESCE(enabled, 1)
             FROM notification_rules ORDER BY id DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		rules := []NotificationRule{}
		for rows.Next() {
			var rule NotificationRule
			var recipients string
			if err := rows.Scan(&rule.ID, &rule.RuleName, &rule.Trigger, &rule.DaysBefore, &recipients, &rule.Enabled); err != nil {
				return err
			}
			rule.Recipients = decodeRecipients(recipients)
			rules = append(rules, rule)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = rules
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get notification rules: %w", err)
	}
	return out, nil
}

// UpdateNotificationRule replaces every field of the rule identified by
// rule.ID.
func (s *PostgresStore) UpdateNotificationRule(ctx context.Context, rule NotificationRule) error {
	tag, err := s.exec(ctx,
		`UPDATE notification_rules
         SET rule_name = $1, "trigger" = $2, days_before = $3, recipients = $4, enabled = $5
         WHERE id = $6`,
		rule.RuleName, rule.Trigger, rule.DaysBefore, encodeRecipients(rule.Recipients), rule.Enabled, rule.ID)
	if err != nil {
		return fmt.Errorf("update notification rule %d: %w", rule.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNotificationRule removes a rule and its sent log entries.
func (s *PostgresStore) DeleteNotificationRule(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM notifications_sent WHERE rule_id = $1", id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, "DELETE FROM notification_rules WHERE id = $1", id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete notification rule %d: %w", id, err)
	}
	return nil
}

// LogNotificationSent records that a rule fired for an enrollment. Logging
// the same pair twice leaves a single row, even under concurrent writers.
func (s *PostgresStore) LogNotificationSent(ctx context.Context, enrollmentID, ruleID int64) error {
	_, err := s.exec(ctx,
		"INSERT INTO notifications_sent (enrollment_id, rule_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		enrollmentID, ruleID)
	if err != nil {
		return fmt.Errorf("log notification sent: %w", err)
	}
	return nil
}

// GetSentNotificationsForEnrollment lists every firing logged for one
// enrollment.
func (s *PostgresStore) GetSentNotificationsForEnrollment(ctx context.Context, enrollmentID int64) ([]NotificationSent, error) {
	var out []NotificationSent
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			"SELECT id, enrollment_id, rule_id, COALESCE(sent_at::text, '') FROM notifications_sent WHERE enrollment_id = $1 ORDER BY id",
			enrollmentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		sent := []NotificationSent{}
		for rows.Next() {
			var rec NotificationSent
			if err := rows.Scan(&rec.ID, &rec.EnrollmentID, &rec.RuleID, &rec.SentAt); err != nil {
				return err
			}
			sent = append(sent, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = sent
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get sent notifications for enrollment %d: %w", enrollmentID, err)
	}
	return out, nil
}

// GetSetting returns the stored value for key, or nil when unset.
func (s *PostgresStore) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var value *string
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			"SELECT setting_value::text FROM app_settings WHERE setting_key = $1", key).Scan(&value)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	if value == nil {
		return nil, nil
	}
	return json.RawMessage(*value), nil
}

// SetSetting upserts a setting value, serialized as JSON.
func (s *PostgresStore) SetSetting(ctx context.Context, key string, value any) error {
	encoded, err := encodeJSONValue(value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	if encoded == nil {
		encoded = "null"
	}
	_, err = s.exec(ctx,
		`INSERT INTO app_settings (setting_key, setting_value, updated_at)
         VALUES ($1, $2::jsonb, CURRENT_TIMESTAMP)
         ON CONFLICT (setting_key)
         DO UPDATE SET setting_value = EXCLUDED.setting_value, updated_at = EXCLUDED.updated_at`,
		key, encoded)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := withRetry(ctx, func() error {
		var err error
		tag, err = s.pool.Exec(ctx, query, args...)
		return err
	})
	return tag, err
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}
