package persistence

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newJSONTestStore(t *testing.T) (*JSONStore, Config) {
	t.Helper()

	cfg := Config{DataDir: t.TempDir()}
	store, err := NewJSONStore(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, cfg
}

func TestJSONStoreEnrollmentLifecycle(t *testing.T) {
	store, _ := newJSONTestStore(t)
	ctx := context.Background()

	id, err := store.InsertEnrollment(ctx, sampleEnrollment())
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	rec, err := store.GetEnrollmentByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Dana Reyes", rec.FullName)
	require.Equal(t, 0, rec.Approved)
	require.NotEmpty(t, rec.SubmissionDate)
	require.Equal(t, rec.Industries, rec.Industry)

	require.NoError(t, store.UpdateEnrollment(ctx, id, map[string]any{"comment": "note"}))
	rec, err = store.GetEnrollmentByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "note", rec.Comment)

	err = store.UpdateEnrollment(ctx, id, map[string]any{"bogus": 1})
	require.ErrorContains(t, err, "unknown enrollment field")

	require.NoError(t, store.ApproveEnrollment(ctx, id, "admin@example.com"))
	rec, err = store.GetEnrollmentByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, rec.Approved)
	require.NotNil(t, rec.ApprovedAt)

	require.NoError(t, store.DeleteEnrollment(ctx, id))
	_, err = store.GetEnrollmentByID(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJSONStoreInsertsNewestFirst(t *testing.T) {
	store, _ := newJSONTestStore(t)
	ctx := context.Background()

	first := sampleEnrollment()
	first.FullName = "First"
	second := sampleEnrollment()
	second.FullName = "Second"

	_, err := store.InsertEnrollment(ctx, first)
	require.NoError(t, err)
	_, err = store.InsertEnrollment(ctx, second)
	require.NoError(t, err)

	all, err := store.GetAllEnrollments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Second", all[0].FullName)
	require.Equal(t, "First", all[1].FullName)
}

func TestJSONStoreIDsNeverReused(t *testing.T) {
	store, _ := newJSONTestStore(t)
	ctx := context.Background()

	id1, err := store.InsertEnrollment(ctx, sampleEnrollment())
	require.NoError(t, err)
	require.NoError(t, store.DeleteEnrollment(ctx, id1))

	id2, err := store.InsertEnrollment(ctx, sampleEnrollment())
	require.NoError(t, err)
	require.Greater(t, id2, id1)
}

func TestJSONStoreCreateEnrollmentWithDocuments(t *testing.T) {
	store, _ := newJSONTestStore(t)
	ctx := context.Background()

	id, err := store.CreateEnrollmentWithDocuments(ctx, sampleEnrollment(), []Document{
		{DocType: DocTypeVehicle, FilePath: "uploads/truck.jpg"},
		{DocType: DocTypeRegistration, FilePath: "uploads/reg.pdf"},
	})
	require.NoError(t, err)

	rec, err := store.GetEnrollmentByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, rec.Documents, 2)
	require.Equal(t, id, rec.Documents[0].EnrollmentID)
}

func TestJSONStoreNotificationRulesAndDedup(t *testing.T) {
	store, _ := newJSONTestStore(t)
	ctx := context.Background()

	enrollmentID, err := store.InsertEnrollment(ctx, sampleEnrollment())
	require.NoError(t, err)

	days := 14
	ruleID, err := store.AddNotificationRule(ctx, NotificationRule{
		RuleName:   "Registration expiring",
		Trigger:    TriggerRegistrationExp,
		DaysBefore: &days,
		Recipients: []string{"ops@example.com"},
		Enabled:    1,
	})
	require.NoError(t, err)

	laterID, err := store.AddNotificationRule(ctx, NotificationRule{
		RuleName: "New enrollment", Trigger: TriggerNewEnrollment, Enabled: 1,
	})
	require.NoError(t, err)
	rules, err := store.GetNotificationRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, laterID, rules[0].ID, "newest rule listed first")

	other := sampleEnrollment()
	other.FullName = "Morgan Wells"
	otherID, err := store.InsertEnrollment(ctx, other)
	require.NoError(t, err)
	require.NoError(t, store.LogNotificationSent(ctx, otherID, ruleID))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.LogNotificationSent(ctx, enrollmentID, ruleID))
	}
	sent, err := store.GetSentNotificationsForEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, enrollmentID, sent[0].EnrollmentID)

	require.NoError(t, store.DeleteNotificationRule(ctx, laterID))
	require.NoError(t, store.DeleteNotificationRule(ctx, ruleID))
	sent, err = store.GetSentNotificationsForEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	require.Empty(t, sent, "sent log entries go with their rule")

	rules, err = store.GetNotificationRules(ctx)
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestJSONStoreSettings(t *testing.T) {
	store, _ := newJSONTestStore(t)
	ctx := context.Background()

	value, err := store.GetSetting(ctx, SettingChecklistRecipients)
	require.NoError(t, err)
	require.Nil(t, value)

	require.NoError(t, store.SetSetting(ctx, SettingChecklistRecipients, []string{"lead@example.com"}))
	value, err = store.GetSetting(ctx, SettingChecklistRecipients)
	require.NoError(t, err)
	require.JSONEq(t, `["lead@example.com"]`, string(value))
}

// legacyFallbackFile is a document written before the approval fields and
// app_settings existed. Its shape must keep loading as is.
const legacyFallbackFile = `{
  "enrollments": [
    {
      "id": 7,
      "full_name": "Riley Chen",
      "tech_id": "T-8080",
      "district": "South",
      "state": "GA",
      "referred_by": "",
      "industries": ["appliance"],
      "year": "2021",
      "make": "Ram",
      "model": "ProMaster",
      "vin": "3C6TRVAG8ME511111",
      "insurance_exp": "2026-01-31",
      "registration_exp": "2025-11-30",
      "template_used": "",
      "comment": "",
      "submission_date": "2025-05-02T10:15:00.000000Z"
    }
  ],
  "documents": [
    {"id": 3, "enrollment_id": 7, "doc_type": "vehicle", "file_path": "uploads/van.jpg"}
  ],
  "notification_rules": [],
  "notifications_sent": [],
  "counters": {"enrollment_id": 7, "document_id": 3, "rule_id": 0, "sent_id": 0}
}`

func TestJSONStoreLoadsLegacyFile(t *testing.T) {
	cfg := Config{DataDir: t.TempDir()}
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	require.NoError(t, os.WriteFile(cfg.FallbackPath(), []byte(legacyFallbackFile), 0o644))

	store, err := NewJSONStore(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	all, err := store.GetAllEnrollments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Riley Chen", all[0].FullName)
	require.Equal(t, 0, all[0].Approved, "missing approval fields read as defaults")
	require.Equal(t, []string{"appliance"}, all[0].Industry, "industry mirrored from the legacy key")
	require.Len(t, all[0].Documents, 1)

	// Counters continue from where the legacy file left off.
	id, err := store.InsertEnrollment(ctx, sampleEnrollment())
	require.NoError(t, err)
	require.Equal(t, int64(8), id)

	// EnsureSchema plus the write normalized the on-disk shape.
	raw, err := os.ReadFile(cfg.FallbackPath())
	require.NoError(t, err)
	var onDisk map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	for _, key := range []string{"enrollments", "documents", "notification_rules", "notifications_sent", "counters"} {
		require.Contains(t, onDisk, key)
	}

	var enrollments []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(onDisk["enrollments"], &enrollments))
	require.Contains(t, enrollments[1], "approved", "upgraded records carry the approval fields")
	require.Contains(t, enrollments[1], "approved_at")
}

func TestJSONStoreLeavesCorruptFileAlone(t *testing.T) {
	cfg := Config{DataDir: t.TempDir()}
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	require.NoError(t, os.WriteFile(cfg.FallbackPath(), []byte("{not json"), 0o644))

	store, err := NewJSONStore(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx), "corrupt file is reported, not fatal")

	raw, err := os.ReadFile(cfg.FallbackPath())
	require.NoError(t, err)
	require.Equal(t, "{not json", string(raw), "schema maintenance never truncates data it cannot read")

	// Writes refuse to clobber a file they could not parse.
	_, err = store.InsertEnrollment(ctx, sampleEnrollment())
	require.Error(t, err)
}

func TestFallbackDocumentDegradedRead(t *testing.T) {
	cfg := Config{DataDir: t.TempDir()}
	doc := newFallbackDocument(cfg.FallbackPath(), zap.NewNop())

	// Missing file degrades to an empty list, never an error.
	recs, err := doc.Enrollments()
	require.NoError(t, err)
	require.Empty(t, recs)

	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	require.NoError(t, os.WriteFile(cfg.FallbackPath(), []byte("garbage"), 0o644))
	recs, err = doc.Enrollments()
	require.NoError(t, err)
	require.Empty(t, recs)
}
