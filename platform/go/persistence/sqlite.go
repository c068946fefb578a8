package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	sqlassets "github.com/hsfleet/byov-enrollment/database"
)

const sqliteEnrollmentSelect = `
    SELECT id, full_name, tech_id,
        COALESCE(district, ''), COALESCE(state, ''), COALESCE(referred_by, ''),
        COALESCE(industries, '[]'), COALESCE(industry, '[]'),
        COALESCE(year, ''), COALESCE(make, ''), COALESCE(model, ''), COALESCE(vin, ''),
        COALESCE(insurance_exp, ''), COALESCE(registration_exp, ''),
        COALESCE(template_used, ''), COALESCE(comment, ''),
        COALESCE(submission_date, ''), COALESCE(approved, 0),
        approved_at, approved_by, dashboard_tech_id, last_upload_report
    FROM enrollments`

const sqliteEnrollmentInsert = `
    INSERT INTO enrollments (
        full_name, tech_id, district, state, referred_by, industries, industry,
        year, make, model, vin, insurance_exp, registration_exp, template_used,
        comment, submission_date, approved, approved_at, approved_by,
        dashboard_tech_id, last_upload_report
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteStore persists enrollments in a local SQLite database file. A single
// mutex serializes writers; SQLite holds one writer at a time anyway and the
// serialization keeps busy-timeout churn out of the picture.
type SQLiteStore struct {
	db       *sql.DB
	mu       sync.Mutex
	fallback *fallbackDocument
	logger   *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database file under
// cfg.DataDir.
func NewSQLiteStore(cfg Config, logger *zap.Logger) (*SQLiteStore, error) {
	path := cfg.SQLitePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &SQLiteStore{
		db:       db,
		fallback: newFallbackDocument(cfg.FallbackPath(), logger),
		logger:   logger,
	}, nil
}

// EnsureSchema creates missing tables, adds columns introduced after the
// first release, backfills the industry column, and installs the notification
// dedup index. Additive steps that fail are logged and skipped.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range splitStatements(sqlassets.SQLiteCoreSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
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
		alter := fmt.Sprintf("ALTER TABLE enrollments ADD COLUMN %s %s", def.name, def.sqliteType)
		if _, err := s.db.ExecContext(ctx, alter); err != nil {
			s.logger.Warn("add enrollment column", zap.String("column", def.name), zap.Error(err))
			continue
		}
		s.logger.Info("added enrollment column", zap.String("column", def.name))
	}

	backfill := `
        UPDATE enrollments SET industry = industries
        WHERE industries IS NOT NULL AND industries != '' AND industries != '[]'
          AND (industry IS NULL OR industry = '' OR industry = '[]')`
	if _, err := s.db.ExecContext(ctx, backfill); err != nil {
		s.logger.Warn("backfill industry column", zap.Error(err))
	}

	dedupIndex := `
        CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_sent_unique
        ON notifications_sent (enrollment_id, rule_id)`
	if _, err := s.db.ExecContext(ctx, dedupIndex); err != nil {
		s.logger.Warn("create notification dedup index", zap.Error(err))
	}

	return nil
}

func (s *SQLiteStore) enrollmentColumnSet(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(enrollments)")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

// InsertEnrollment stores a new enrollment and returns its assigned id.
func (s *SQLiteStore) InsertEnrollment(ctx context.Context, rec Enrollment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applyEnrollmentDefaults(&rec)
	res, err := s.db.ExecContext(ctx, sqliteEnrollmentInsert, sqliteEnrollmentInsertArgs(rec)...)
	if err != nil {
		return 0, fmt.Errorf("insert enrollment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert enrollment: %w", err)
	}
	return id, nil
}

// CreateEnrollmentWithDocuments stores an enrollment and its documents in one
// transaction.
func (s *SQLiteStore) CreateEnrollmentWithDocuments(ctx context.Context, rec Enrollment, docs []Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applyEnrollmentDefaults(&rec)

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqliteEnrollmentInsert, sqliteEnrollmentInsertArgs(rec)...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, doc := range docs {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO documents (enrollment_id, doc_type, file_path) VALUES (?, ?, ?)",
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

func sqliteEnrollmentInsertArgs(rec Enrollment) []any {
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
// attached. If the database file cannot be read the enrollment list is served
// from the fallback document instead.
func (s *SQLiteStore) GetAllEnrollments(ctx context.Context) ([]Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.queryEnrollments(ctx, " ORDER BY submission_date DESC, id DESC")
	if err != nil {
		s.logger.Warn("enrollment query failed; serving fallback document", zap.Error(err))
		return s.fallback.Enrollments()
	}
	return out, nil
}

func (s *SQLiteStore) queryEnrollments(ctx context.Context, suffix string, args ...any) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, sqliteEnrollmentSelect+suffix, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Enrollment{}
	for rows.Next() {
		rec, err := scanSQLiteEnrollment(rows)
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

func (s *SQLiteStore) attachDocuments(ctx context.Context, recs []Enrollment) error {
	rows, err := s.db.QueryContext(ctx,
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

func scanSQLiteEnrollment(row interface{ Scan(dest ...any) error }) (Enrollment, error) {
	var rec Enrollment
	var industries, industry string
	var report sql.NullString
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
	if report.Valid && report.String != "" {
		rec.LastUploadReport = json.RawMessage(report.String)
	}
	return rec, nil
}

// GetEnrollmentByID returns one enrollment with documents attached.
func (s *SQLiteStore) GetEnrollmentByID(ctx context.Context, id int64) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, sqliteEnrollmentSelect+" WHERE id = ?", id)
	rec, err := scanSQLiteEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Enrollment{}, ErrNotFound
	}
	if err != nil {
		return Enrollment{}, fmt.Errorf("get enrollment %d: %w", id, err)
	}

	docs, err := s.documentsForEnrollment(ctx, id)
	if err != nil {
		return Enrollment{}, fmt.Errorf("get enrollment %d: %w", id, err)
	}
	rec.Documents = docs
	return rec, nil
}

// UpdateEnrollment applies a partial update. Unknown fields are rejected
// before any write happens.
func (s *SQLiteStore) UpdateEnrollment(ctx context.Context, id int64, updates map[string]any) error {
	cols, vals, err := normalizeEnrollmentUpdates(updates)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	assignments := make([]string, 0, len(cols))
	for _, col := range cols {
		assignments = append(assignments, col+" = ?")
	}
	query := fmt.Sprintf("UPDATE enrollments SET %s WHERE id = ?", strings.Join(assignments, ", "))
	vals = append(vals, id)

	res, err := s.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("update enrollment %d: %w", id, err)
	}
	return requireRowAffected(res)
}

// DeleteEnrollment removes an enrollment and every dependent row in one
// transaction.
func (s *SQLiteStore) DeleteEnrollment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM notifications_sent WHERE enrollment_id = ?",
			"DELETE FROM documents WHERE enrollment_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM enrollments WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
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
func (s *SQLiteStore) ApproveEnrollment(ctx context.Context, id int64, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE enrollments SET approved = 1, approved_at = ?, approved_by = ? WHERE id = ?",
		time.Now().UTC().Format(timestampLayout), approvedBy, id)
	if err != nil {
		return fmt.Errorf("approve enrollment %d: %w", id, err)
	}
	return requireRowAffected(res)
}

// SetDashboardSyncInfo stores dashboard bookkeeping after an external sync.
// This is the one soft-failure write: errors are logged and swallowed so a
// bookkeeping failure never aborts the sync that already happened.
func (s *SQLiteStore) SetDashboardSyncInfo(ctx context.Context, id int64, dashboardTechID *string, uploadReport any) {
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
func (s *SQLiteStore) AddDocument(ctx context.Context, doc Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (enrollment_id, doc_type, file_path) VALUES (?, ?, ?)",
		doc.EnrollmentID, doc.DocType, doc.FilePath)
	if err != nil {
		return 0, fmt.Errorf("add document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add document: %w", err)
	}
	return id, nil
}

// GetDocumentsForEnrollment lists an enrollment's documents in insert order.
func (s *SQLiteStore) GetDocumentsForEnrollment(ctx context.Context, enrollmentID int64) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentsForEnrollment(ctx, enrollmentID)
}

func (s *SQLiteStore) documentsForEnrollment(ctx context.Context, enrollmentID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, enrollment_id, doc_type, file_path FROM documents WHERE enrollment_id = ? ORDER BY id",
		enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("get documents for enrollment %d: %w", enrollmentID, err)
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.EnrollmentID, &doc.DocType, &doc.FilePath); err != nil {
			return nil, fmt.Errorf("get documents for enrollment %d: %w", enrollmentID, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get documents for enrollment %d: %w", enrollmentID, err)
	}
	return out, nil
}

// DeleteDocumentsForEnrollment removes all documents for an enrollment.
func (s *SQLiteStore) DeleteDocumentsForEnrollment(ctx context.Context, enrollmentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE enrollment_id = ?", enrollmentID); err != nil {
		return fmt.Errorf("delete documents for enrollment %d: %w", enrollmentID, err)
	}
	return nil
}

// AddNotificationRule stores a new rule and returns its assigned id.
func (s *SQLiteStore) AddNotificationRule(ctx context.Context, rule NotificationRule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_rules (rule_name, "trigger", days_before, recipients, enabled)
         VALUES (?, ?, ?, ?, ?)`,
		rule.RuleName, rule.Trigger, rule.DaysBefore, encodeRecipients(rule.Recipients), rule.Enabled)
	if err != nil {
		return 0, fmt.Errorf("add notification rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add notification rule: %w", err)
	}
	return id, nil
}

// GetNotificationRules lists all rules, newest first.
func (s *SQLiteStore) GetNotificationRules(ctx context.Context) ([]NotificationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_name, "trigger", days_before, COALESCE(recipients, ''), COALESCE(enabled, 1)
         FROM notification_rules ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("get notification rules: %w", err)
	}
	defer rows.Close()

	out := []NotificationRule{}
	for rows.Next() {
		var rule NotificationRule
		var recipients string
		if err := rows.Scan(&rule.ID, &rule.RuleName, &rule.Trigger, &rule.DaysBefore, &recipients, &rule.Enabled); err != nil {
			return nil, fmt.Errorf("get notification rules: %w", err)
		}
		rule.Recipients = decodeRecipients(recipients)
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get notification rules: %w", err)
	}
	return out, nil
}

// UpdateNotificationRule replaces every field of the rule identified by
// rule.ID.
func (s *SQLiteStore) UpdateNotificationRule(ctx context.Context, rule NotificationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_rules
         SET rule_name = ?, "trigger" = ?, days_before = ?, recipients = ?, enabled = ?
         WHERE id = ?`,
		rule.RuleName, rule.Trigger, rule.DaysBefore, encodeRecipients(rule.Recipients), rule.Enabled, rule.ID)
	if err != nil {
		return fmt.Errorf("update notification rule %d: %w", rule.ID, err)
	}
	return requireRowAffected(res)
}

// DeleteNotificationRule removes a rule and its sent log entries.
func (s *SQLiteStore) DeleteNotificationRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM notifications_sent WHERE rule_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM notification_rules WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
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
// the same pair twice leaves a single row.
func (s *SQLiteStore) LogNotificationSent(ctx context.Context, enrollmentID, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO notifications_sent (enrollment_id, rule_id, sent_at) VALUES (?, ?, ?)",
		enrollmentID, ruleID, time.Now().UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("log notification sent: %w", err)
	}
	return nil
}

// GetSentNotificationsForEnrollment lists every firing logged for one
// enrollment.
func (s *SQLiteStore) GetSentNotificationsForEnrollment(ctx context.Context, enrollmentID int64) ([]NotificationSent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, enrollment_id, rule_id, COALESCE(sent_at, '') FROM notifications_sent WHERE enrollment_id = ? ORDER BY id",
		enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("get sent notifications for enrollment %d: %w", enrollmentID, err)
	}
	defer rows.Close()

	out := []NotificationSent{}
	for rows.Next() {
		var rec NotificationSent
		if err := rows.Scan(&rec.ID, &rec.EnrollmentID, &rec.RuleID, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("get sent notifications for enrollment %d: %w", enrollmentID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get sent notifications for enrollment %d: %w", enrollmentID, err)
	}
	return out, nil
}

// GetSetting returns the stored value for key, or nil when unset.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT setting_value FROM app_settings WHERE setting_key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}

// SetSetting upserts a setting value, serialized as JSON.
func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value any) error {
	encoded, err := encodeJSONValue(value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	if encoded == nil {
		encoded = "null"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT (setting_key)
         DO UPDATE SET setting_value = excluded.setting_value, updated_at = excluded.updated_at`,
		key, encoded, time.Now().UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Close closes the database file.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
