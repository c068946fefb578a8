package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// storeDocument is the on-disk shape of the fallback document store. Key
// names are a compatibility contract with files existing deployments already
// hold.
type storeDocument struct {
	Enrollments       []Enrollment               `json:"enrollments"`
	Documents         []Document                 `json:"documents"`
	NotificationRules []NotificationRule         `json:"notification_rules"`
	NotificationsSent []NotificationSent         `json:"notifications_sent"`
	Counters          storeCounters              `json:"counters"`
	AppSettings       map[string]json.RawMessage `json:"app_settings,omitempty"`
}

// storeCounters tracks the next-id state for storage-assigned ids.
type storeCounters struct {
	EnrollmentID int64 `json:"enrollment_id"`
	DocumentID   int64 `json:"document_id"`
	RuleID       int64 `json:"rule_id"`
	SentID       int64 `json:"sent_id"`
}

func emptyStoreDocument() *storeDocument {
	return &storeDocument{
		Enrollments:       []Enrollment{},
		Documents:         []Document{},
		NotificationRules: []NotificationRule{},
		NotificationsSent: []NotificationSent{},
	}
}

// fallbackDocument owns the fallback file on disk. The JSON backend uses it
// as primary storage; the relational backends read it when degraded.
type fallbackDocument struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

func newFallbackDocument(path string, logger *zap.Logger) *fallbackDocument {
	return &fallbackDocument{path: path, logger: logger}
}

// read parses the document file. A missing file yields an empty document; a
// file that exists but cannot be parsed is an error, so callers never
// silently clobber data they could not read.
func (d *fallbackDocument) read() (*storeDocument, error) {
	raw, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyStoreDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fallback document: %w", err)
	}

	doc := emptyStoreDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("parse fallback document: %w", err)
	}

	// Files written before the industry key existed carry only industries;
	// both fields read back as the same list.
	for i := range doc.Enrollments {
		rec := &doc.Enrollments[i]
		tags := rec.Industry
		if len(tags) == 0 {
			tags = rec.Industries
		}
		if tags == nil {
			tags = []string{}
		}
		rec.Industry = tags
		rec.Industries = tags
	}
	return doc, nil
}

// write persists the document atomically via a temp file rename.
func (d *fallbackDocument) write(doc *storeDocument) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize fallback document: %w", err)
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write fallback document: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("write fallback document: %w", err)
	}
	return nil
}

// Enrollments serves the degraded read path for the relational backends. Any
// problem reading the file yields an empty list rather than an error; a
// broken fallback should not turn a degraded read into a hard failure.
func (d *fallbackDocument) Enrollments() ([]Enrollment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.read()
	if err != nil {
		d.logger.Warn("fallback document unreadable", zap.Error(err))
		return []Enrollment{}, nil
	}
	attachStoredDocuments(doc)
	return doc.Enrollments, nil
}

func attachStoredDocuments(doc *storeDocument) {
	byEnrollment := map[int64][]Document{}
	for _, d := range doc.Documents {
		byEnrollment[d.EnrollmentID] = append(byEnrollment[d.EnrollmentID], d)
	}
	for i := range doc.Enrollments {
		doc.Enrollments[i].Documents = byEnrollment[doc.Enrollments[i].ID]
	}
}

// JSONStore persists everything in a single JSON document file. It exists for
// deployments with neither a database server nor a usable SQLite file, and as
// the read target when a relational backend is degraded. New enrollments go
// to the front of the list so reads stay newest-first without sorting.
type JSONStore struct {
	doc    *fallbackDocument
	logger *zap.Logger
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore opens the document store under cfg.DataDir.
func NewJSONStore(cfg Config, logger *zap.Logger) (*JSONStore, error) {
	return &JSONStore{
		doc:    newFallbackDocument(cfg.FallbackPath(), logger),
		logger: logger,
	}, nil
}

// EnsureSchema creates the document file when missing and rewrites an
// existing one in the current shape, which adds any keys introduced after
// the file was first written. An unparseable file is left untouched.
func (s *JSONStore) EnsureSchema(ctx context.Context) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()

	doc, err := s.doc.read()
	if err != nil {
		s.logger.Warn("fallback document unreadable; leaving file as is", zap.Error(err))
		return nil
	}
	return s.doc.write(doc)
}

func (s *JSONStore) mutate(fn func(*storeDocument) error) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()

	doc, err := s.doc.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.doc.write(doc)
}

func (s *JSONStore) view(fn func(*storeDocument)) error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()

	doc, err := s.doc.read()
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

// InsertEnrollment stores a new enrollment and returns its assigned id.
func (s *JSONStore) InsertEnrollment(ctx context.Context, rec Enrollment) (int64, error) {
	var id int64
	err := s.mutate(func(doc *storeDocument) error {
		id = insertEnrollmentDoc(doc, rec)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert enrollment: %w", err)
	}
	return id, nil
}

// CreateEnrollmentWithDocuments stores an enrollment and its documents in one
// write; a failure leaves the file unchanged.
func (s *JSONStore) CreateEnrollmentWithDocuments(ctx context.Context, rec Enrollment, docs []Document) (int64, error) {
	var id int64
	err := s.mutate(func(doc *storeDocument) error {
		id = insertEnrollmentDoc(doc, rec)
		for _, d := range docs {
			doc.Counters.DocumentID++
			d.ID = doc.Counters.DocumentID
			d.EnrollmentID = id
			doc.Documents = append(doc.Documents, d)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create enrollment with documents: %w", err)
	}
	return id, nil
}

func insertEnrollmentDoc(doc *storeDocument, rec Enrollment) int64 {
	applyEnrollmentDefaults(&rec)
	doc.Counters.EnrollmentID++
	rec.ID = doc.Counters.EnrollmentID
	rec.Documents = nil
	doc.Enrollments = append([]Enrollment{rec}, doc.Enrollments...)
	return rec.ID
}

// GetAllEnrollments returns every enrollment, newest first, with documents
// attached.
func (s *JSONStore) GetAllEnrollments(ctx context.Context) ([]Enrollment, error) {
	var out []Enrollment
	err := s.view(func(doc *storeDocument) {
		attachStoredDocuments(doc)
		out = doc.Enrollments
	})
	if err != nil {
		return nil, fmt.Errorf("get all enrollments: %w", err)
	}
	return out, nil
}

// GetEnrollmentByID returns one enrollment with documents attached.
func (s *JSONStore) GetEnrollmentByID(ctx context.Context, id int64) (Enrollment, error) {
	var rec Enrollment
	found := false
	err := s.view(func(doc *storeDocument) {
		attachStoredDocuments(doc)
		for _, e := range doc.Enrollments {
			if e.ID == id {
				rec = e
				found = true
				return
			}
		}
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("get enrollment %d: %w", id, err)
	}
	if !found {
		return Enrollment{}, ErrNotFound
	}
	return rec, nil
}

// UpdateEnrollment applies a partial update. Unknown fields are rejected
// before any write happens.
func (s *JSONStore) UpdateEnrollment(ctx context.Context, id int64, updates map[string]any) error {
	cols, vals, err := normalizeEnrollmentUpdates(updates)
	if err != nil {
		return err
	}

	err = s.mutate(func(doc *storeDocument) error {
		for i := range doc.Enrollments {
			if doc.Enrollments[i].ID != id {
				continue
			}
			for j, col := range cols {
				if err := applyEnrollmentUpdate(&doc.Enrollments[i], col, vals[j]); err != nil {
					return err
				}
			}
			return nil
		}
		return ErrNotFound
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update enrollment %d: %w", id, err)
	}
	return nil
}

// DeleteEnrollment removes an enrollment together with its documents and
// sent-notification entries.
func (s *JSONStore) DeleteEnrollment(ctx context.Context, id int64) error {
	err := s.mutate(func(doc *storeDocument) error {
		kept := doc.Enrollments[:0]
		found := false
		for _, e := range doc.Enrollments {
			if e.ID == id {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		if !found {
			return ErrNotFound
		}
		doc.Enrollments = kept

		docs := doc.Documents[:0]
		for _, d := range doc.Documents {
			if d.EnrollmentID != id {
				docs = append(docs, d)
			}
		}
		doc.Documents = docs

		sent := doc.NotificationsSent[:0]
		for _, n := range doc.NotificationsSent {
			if n.EnrollmentID != id {
				sent = append(sent, n)
			}
		}
		doc.NotificationsSent = sent
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

// ApproveEnrollment marks an enrollment approved.
func (s *JSONStore) ApproveEnrollment(ctx context.Context, id int64, approvedBy string) error {
	now := time.Now().UTC().Format(timestampLayout)
	return s.UpdateEnrollment(ctx, id, map[string]any{
		"approved":    1,
		"approved_at": now,
		"approved_by": approvedBy,
	})
}

// SetDashboardSyncInfo stores dashboard bookkeeping after an external sync.
// Errors are logged and swallowed.
func (s *JSONStore) SetDashboardSyncInfo(ctx context.Context, id int64, dashboardTechID *string, uploadReport any) {
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
func (s *JSONStore) AddDocument(ctx context.Context, d Document) (int64, error) {
	var id int64
	err := s.mutate(func(doc *storeDocument) error {
		doc.Counters.DocumentID++
		d.ID = doc.Counters.DocumentID
		doc.Documents = append(doc.Documents, d)
		id = d.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add document: %w", err)
	}
	return id, nil
}

// GetDocumentsForEnrollment lists an enrollment's documents in insert order.
func (s *JSONStore) GetDocumentsForEnrollment(ctx context.Context, enrollmentID int64) ([]Document, error) {
	out := []Document{}
	err := s.view(func(doc *storeDocument) {
		for _, d := range doc.Documents {
			if d.EnrollmentID == enrollmentID {
				out = append(out, d)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("get documents for enrollment %d: %w", enrollmentID, err)
	}
	return out, nil
}

// DeleteDocumentsForEnrollment removes all documents for an enrollment.
func (s *JSONStore) DeleteDocumentsForEnrollment(ctx context.Context, enrollmentID int64) error {
	err := s.mutate(func(doc *storeDocument) error {
		kept := doc.Documents[:0]
		for _, d := range doc.Documents {
			if d.EnrollmentID != enrollmentID {
				kept = append(kept, d)
			}
		}
		doc.Documents = kept
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete documents for enrollment %d: %w", enrollmentID, err)
	}
	return nil
}

// AddNotificationRule stores a new rule and returns its assigned id.
func (s *JSONStore) AddNotificationRule(ctx context.Context, rule NotificationRule) (int64, error) {
	var id int64
	err := s.mutate(func(doc *storeDocument) error {
		doc.Counters.RuleID++
		rule.ID = doc.Counters.RuleID
		if rule.Recipients == nil {
			rule.Recipients = []string{}
		}
		doc.NotificationRules = append(doc.NotificationRules, rule)
		id = rule.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add notification rule: %w", err)
	}
	return id, nil
}

// GetNotificationRules lists all rules, newest first.
func (s *JSONStore) GetNotificationRules(ctx context.Context) ([]NotificationRule, error) {
	var out []NotificationRule
	err := s.view(func(doc *storeDocument) {
		out = make([]NotificationRule, 0, len(doc.NotificationRules))
		for i := len(doc.NotificationRules) - 1; i >= 0; i-- {
			out = append(out, doc.NotificationRules[i])
		}
	})
	if err != nil {
		return nil, fmt.Errorf("get notification rules: %w", err)
	}
	return out, nil
}

// UpdateNotificationRule replaces every field of the rule identified by
// rule.ID.
func (s *JSONStore) UpdateNotificationRule(ctx context.Context, rule NotificationRule) error {
	err := s.mutate(func(doc *storeDocument) error {
		for i := range doc.NotificationRules {
			if doc.NotificationRules[i].ID == rule.ID {
				if rule.Recipients == nil {
					rule.Recipients = []string{}
				}
				doc.NotificationRules[i] = rule
				return nil
			}
		}
		return ErrNotFound
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update notification rule %d: %w", rule.ID, err)
	}
	return nil
}

// DeleteNotificationRule removes a rule and its sent log entries.
func (s *JSONStore) DeleteNotificationRule(ctx context.Context, id int64) error {
	err := s.mutate(func(doc *storeDocument) error {
		kept := doc.NotificationRules[:0]
		found := false
		for _, r := range doc.NotificationRules {
			if r.ID == id {
				found = true
				continue
			}
			kept = append(kept, r)
		}
		if !found {
			return ErrNotFound
		}
		doc.NotificationRules = kept

		sent := doc.NotificationsSent[:0]
		for _, n := range doc.NotificationsSent {
			if n.RuleID != id {
				sent = append(sent, n)
			}
		}
		doc.NotificationsSent = sent
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
// the same pair twice leaves a single entry.
func (s *JSONStore) LogNotificationSent(ctx context.Context, enrollmentID, ruleID int64) error {
	err := s.mutate(func(doc *storeDocument) error {
		for _, n := range doc.NotificationsSent {
			if n.EnrollmentID == enrollmentID && n.RuleID == ruleID {
				return nil
			}
		}
		doc.Counters.SentID++
		doc.NotificationsSent = append(doc.NotificationsSent, NotificationSent{
			ID:           doc.Counters.SentID,
			EnrollmentID: enrollmentID,
			RuleID:       ruleID,
			SentAt:       time.Now().UTC().Format(timestampLayout),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("log notification sent: %w", err)
	}
	return nil
}

// GetSentNotificationsForEnrollment lists every firing logged for one
// enrollment.
func (s *JSONStore) GetSentNotificationsForEnrollment(ctx context.Context, enrollmentID int64) ([]NotificationSent, error) {
	out := []NotificationSent{}
	err := s.view(func(doc *storeDocument) {
		for _, n := range doc.NotificationsSent {
			if n.EnrollmentID == enrollmentID {
				out = append(out, n)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("get sent notifications for enrollment %d: %w", enrollmentID, err)
	}
	return out, nil
}

// GetSetting returns the stored value for key, or nil when unset.
func (s *JSONStore) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var out json.RawMessage
	err := s.view(func(doc *storeDocument) {
		out = doc.AppSettings[key]
	})
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return out, nil
}

// SetSetting upserts a setting value, serialized as JSON.
func (s *JSONStore) SetSetting(ctx context.Context, key string, value any) error {
	encoded, err := encodeJSONValue(value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	text := "null"
	if encoded != nil {
		text = encoded.(string)
	}

	err = s.mutate(func(doc *storeDocument) error {
		if doc.AppSettings == nil {
			doc.AppSettings = map[string]json.RawMessage{}
		}
		doc.AppSettings[key] = json.RawMessage(text)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Close is a no-op; every operation opens and closes the file itself.
func (s *JSONStore) Close() error {
	return nil
}
