package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEnrollmentUpdatesRejectsUnknownField(t *testing.T) {
	_, _, err := normalizeEnrollmentUpdates(map[string]any{"ssn": "nope"})
	require.ErrorContains(t, err, "unknown enrollment field")

	_, _, err = normalizeEnrollmentUpdates(map[string]any{})
	require.Error(t, err)
}

func TestNormalizeEnrollmentUpdatesSyncsIndustryFields(t *testing.T) {
	cols, vals, err := normalizeEnrollmentUpdates(map[string]any{
		"industries": []string{"plumbing", "hvac"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"industries", "industry"}, cols)

	for _, v := range vals {
		require.Equal(t, `["plumbing","hvac"]`, v)
	}
}

func TestNormalizeEnrollmentUpdatesSerializesUploadReport(t *testing.T) {
	cols, vals, err := normalizeEnrollmentUpdates(map[string]any{
		"last_upload_report": map[string]any{"status": "ok"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"last_upload_report"}, cols)
	require.JSONEq(t, `{"status":"ok"}`, vals[0].(string))
}

func TestDecodeTags(t *testing.T) {
	require.Equal(t, []string{"plumbing", "hvac"}, decodeTags(`["plumbing","hvac"]`))
	// Legacy rows hold comma-separated text instead of JSON.
	require.Equal(t, []string{"plumbing", "hvac"}, decodeTags("plumbing, hvac"))
	require.Empty(t, decodeTags(""))
	require.Empty(t, decodeTags("null"))
	require.Empty(t, decodeTags("[]"))
}

func TestRecipientsRoundTrip(t *testing.T) {
	encoded := encodeRecipients([]string{"ops@example.com", "fleet@example.com"})
	require.Equal(t, "ops@example.com,fleet@example.com", encoded)
	require.Equal(t, []string{"ops@example.com", "fleet@example.com"}, decodeRecipients(encoded))
	require.Empty(t, decodeRecipients(""))
}
