package persistence

import (
	"encoding/json"
	"time"
)

// timestampLayout is the wire format for stored timestamps. Fixed-width
// fractional seconds keep lexicographic and chronological order aligned for
// backends that store timestamps as text.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Document types accepted for enrollment uploads.
const (
	DocTypeVehicle      = "vehicle"
	DocTypeInsurance    = "insurance"
	DocTypeRegistration = "registration"
	DocTypeSignature    = "signature"
)

// Notification rule triggers.
const (
	TriggerNewEnrollment   = "new_enrollment"
	TriggerInsuranceExp    = "insurance_expiration"
	TriggerRegistrationExp = "registration_expiration"
)

// Enrollment is a technician's vehicle enrollment submission. JSON tags match
// the key names of the document-store fallback file, which existing
// deployments already hold on disk.
type Enrollment struct {
	ID               int64           `json:"id"`
	FullName         string          `json:"full_name"`
	TechID           string          `json:"tech_id"`
	District         string          `json:"district"`
	State            string          `json:"state"`
	ReferredBy       string          `json:"referred_by"`
	Industries       []string        `json:"industries"`
	Industry         []string        `json:"industry"`
	Year             string          `json:"year"`
	Make             string          `json:"make"`
	Model            string          `json:"model"`
	VIN              string          `json:"vin"`
	InsuranceExp     string          `json:"insurance_exp"`
	RegistrationExp  string          `json:"registration_exp"`
	TemplateUsed     string          `json:"template_used"`
	Comment          string          `json:"comment"`
	SubmissionDate   string          `json:"submission_date"`
	Approved         int             `json:"approved"`
	ApprovedAt       *string         `json:"approved_at"`
	ApprovedBy       *string         `json:"approved_by"`
	DashboardTechID  *string         `json:"dashboard_tech_id"`
	LastUploadReport json.RawMessage `json:"last_upload_report,omitempty"`
	Documents        []Document      `json:"documents,omitempty"`
}

// Document is a stored file reference attached to an enrollment.
type Document struct {
	ID           int64  `json:"id"`
	EnrollmentID int64  `json:"enrollment_id"`
	DocType      string `json:"doc_type"`
	FilePath     string `json:"file_path"`
}

// NotificationRule configures when reminder emails fire and who receives them.
type NotificationRule struct {
	ID         int64    `json:"id"`
	RuleName   string   `json:"rule_name"`
	Trigger    string   `json:"trigger"`
	DaysBefore *int     `json:"days_before"`
	Recipients []string `json:"recipients"`
	Enabled    int      `json:"enabled"`
}

// NotificationSent records that a rule fired for an enrollment. At most one
// row exists per (enrollment, rule) pair.
type NotificationSent struct {
	ID           int64  `json:"id"`
	EnrollmentID int64  `json:"enrollment_id"`
	RuleID       int64  `json:"rule_id"`
	SentAt       string `json:"sent_at"`
}

// ChecklistTask is one onboarding step tracked for an approved enrollment.
type ChecklistTask struct {
	ID             int64   `json:"id"`
	EnrollmentID   int64   `json:"enrollment_id"`
	TaskKey        string  `json:"task_key"`
	TaskName       string  `json:"task_name"`
	Completed      int     `json:"completed"`
	CompletedAt    *string `json:"completed_at"`
	CompletedBy    *string `json:"completed_by"`
	EmailRecipient *string `json:"email_recipient"`
	EmailSent      int     `json:"email_sent"`
	EmailSentAt    *string `json:"email_sent_at"`
}

// ChecklistTaskDef names a checklist step seeded for every approved enrollment.
type ChecklistTaskDef struct {
	Key  string
	Name string
}

// ChecklistTasks is the fixed onboarding checklist, in display order.
var ChecklistTasks = []ChecklistTaskDef{
	{Key: "approved_synced", Name: "Approved Enrollment & Synced to Dashboard"},
	{Key: "mileage_segno", Name: "Mileage form created in Segno"},
	{Key: "fleet_truck", Name: "Fleet Notified for Truck Number"},
	{Key: "inventory_assortment", Name: "Inventory Notified for Assortment"},
	{Key: "supplies_magnets", Name: "Supplies Notified for Magnets"},
	{Key: "policy_hshr", Name: "Signed Policy Form Sent to HSHRpaperwork"},
	{Key: "survey_completed", Name: "Survey Completed"},
}

// Well-known app settings keys.
const (
	SettingApprovalNotification = "approval_notification"
	SettingChecklistRecipients  = "checklist_recipients"
)

// applyEnrollmentDefaults fills storage-assigned defaults prior to insert and
// keeps the two industry tag fields in sync.
func applyEnrollmentDefaults(rec *Enrollment) {
	if rec.SubmissionDate == "" {
		rec.SubmissionDate = time.Now().UTC().Format(timestampLayout)
	}
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
