package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup targets a row that does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract shared by all storage backends. Every
// method is safe to call concurrently.
type Store interface {
	// EnsureSchema creates missing tables and applies additive column
	// migrations. It is idempotent and safe to run on every startup.
	EnsureSchema(ctx context.Context) error

	InsertEnrollment(ctx context.Context, rec Enrollment) (int64, error)
	// CreateEnrollmentWithDocuments inserts an enrollment and its documents
	// atomically; either all rows land or none do.
	CreateEnrollmentWithDocuments(ctx context.Context, rec Enrollment, docs []Document) (int64, error)
	// GetAllEnrollments returns every enrollment, newest first, each with its
	// documents attached.
	GetAllEnrollments(ctx context.Context) ([]Enrollment, error)
	GetEnrollmentByID(ctx context.Context, id int64) (Enrollment, error)
	// UpdateEnrollment applies a partial update keyed by column name. Unknown
	// keys are rejected.
	UpdateEnrollment(ctx context.Context, id int64, updates map[string]any) error
	DeleteEnrollment(ctx context.Context, id int64) error
	// ApproveEnrollment marks the enrollment approved, stamping the approval
	// time and actor. Idempotent.
	ApproveEnrollment(ctx context.Context, id int64, approvedBy string) error
	// SetDashboardSyncInfo records dashboard bookkeeping after an external
	// sync. Failures are logged and swallowed; a failed write here must never
	// abort the caller's workflow.
	SetDashboardSyncInfo(ctx context.Context, id int64, dashboardTechID *string, uploadReport any)

	AddDocument(ctx context.Context, doc Document) (int64, error)
	GetDocumentsForEnrollment(ctx context.Context, enrollmentID int64) ([]Document, error)
	DeleteDocumentsForEnrollment(ctx context.Context, enrollmentID int64) error

	AddNotificationRule(ctx context.Context, rule NotificationRule) (int64, error)
	GetNotificationRules(ctx context.Context) ([]NotificationRule, error)
	UpdateNotificationRule(ctx context.Context, rule NotificationRule) error
	DeleteNotificationRule(ctx context.Context, id int64) error
	// LogNotificationSent records that a rule fired for an enrollment. The
	// write deduplicates: logging the same pair again is a no-op.
	LogNotificationSent(ctx context.Context, enrollmentID, ruleID int64) error
	// GetSentNotificationsForEnrollment returns every firing logged for one
	// enrollment; callers use it to decide whether a rule already fired.
	GetSentNotificationsForEnrollment(ctx context.Context, enrollmentID int64) ([]NotificationSent, error)

	// GetSetting returns the stored value for key, or nil when unset.
	GetSetting(ctx context.Context, key string) (json.RawMessage, error)
	SetSetting(ctx context.Context, key string, value any) error

	Close() error
}

// ChecklistStore is implemented by backends that track the onboarding
// checklist. Callers discover support with a type assertion.
type ChecklistStore interface {
	// CreateChecklistForEnrollment seeds the fixed task list for an
	// enrollment. Already-seeded tasks are left untouched.
	CreateChecklistForEnrollment(ctx context.Context, enrollmentID int64) error
	GetChecklistForEnrollment(ctx context.Context, enrollmentID int64) ([]ChecklistTask, error)
	UpdateChecklistTask(ctx context.Context, taskID int64, completed bool, completedBy string) error
	SetChecklistEmailRecipient(ctx context.Context, taskID int64, recipient string) error
	MarkChecklistEmailSent(ctx context.Context, taskID int64) error
}

// Open selects a backend from cfg, connects, and runs schema maintenance.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	backend, err := cfg.SelectBackend()
	if err != nil {
		return nil, err
	}

	var store Store
	switch backend {
	case BackendPostgres:
		store, err = NewPostgresStore(ctx, cfg, logger)
	case BackendSQLite:
		store, err = NewSQLiteStore(cfg, logger)
	case BackendJSON:
		store, err = NewJSONStore(cfg, logger)
	default:
		err = fmt.Errorf("unknown storage backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("storage backend ready", zap.String("backend", string(backend)))
	return store, nil
}
