package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
)

// enrollmentColumns is the allowlist of fields a partial update may touch.
var enrollmentColumns = map[string]struct{}{
	"full_name":          {},
	"tech_id":            {},
	"district":           {},
	"state":              {},
	"referred_by":        {},
	"industries":         {},
	"industry":           {},
	"year":               {},
	"make":               {},
	"model":              {},
	"vin":                {},
	"insurance_exp":      {},
	"registration_exp":   {},
	"template_used":      {},
	"comment":            {},
	"submission_date":    {},
	"approved":           {},
	"approved_at":        {},
	"approved_by":        {},
	"dashboard_tech_id":  {},
	"last_upload_report": {},
}

// normalizeEnrollmentUpdates validates a partial update map and returns the
// columns to write in deterministic order with their encoded values. Touching
// either industry field rewrites both so the two columns never diverge, and
// last_upload_report values are serialized to JSON text.
func normalizeEnrollmentUpdates(updates map[string]any) ([]string, []any, error) {
	if len(updates) == 0 {
		return nil, nil, fmt.Errorf("no fields to update")
	}

	normalized := make(map[string]any, len(updates))
	for key, value := range updates {
		if _, ok := enrollmentColumns[key]; !ok {
			return nil, nil, fmt.Errorf("unknown enrollment field %q", key)
		}
		switch key {
		case "industries", "industry":
			tags, err := coerceTags(value)
			if err != nil {
				return nil, nil, fmt.Errorf("field %q: %w", key, err)
			}
			encoded := encodeTags(tags)
			normalized["industries"] = encoded
			normalized["industry"] = encoded
		case "last_upload_report":
			encoded, err := encodeJSONValue(value)
			if err != nil {
				return nil, nil, fmt.Errorf("field %q: %w", key, err)
			}
			normalized[key] = encoded
		default:
			normalized[key] = value
		}
	}

	cols := make([]string, 0, len(normalized))
	for col := range normalized {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	vals := make([]any, 0, len(cols))
	for _, col := range cols {
		vals = append(vals, normalized[col])
	}
	return cols, vals, nil
}

// encodeJSONValue serializes an arbitrary value to JSON text. Strings and raw
// messages are assumed to already be JSON and pass through unchanged.
func encodeJSONValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		return string(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("serialize value: %w", err)
		}
		return string(b), nil
	}
}

// applyEnrollmentUpdate writes one already-validated column value onto an
// in-memory record. Used by the document-store backend, which has no SQL
// layer to do this for it.
func applyEnrollmentUpdate(rec *Enrollment, col string, value any) error {
	switch col {
	case "full_name":
		return setString(&rec.FullName, col, value)
	case "tech_id":
		return setString(&rec.TechID, col, value)
	case "district":
		return setString(&rec.District, col, value)
	case "state":
		return setString(&rec.State, col, value)
	case "referred_by":
		return setString(&rec.ReferredBy, col, value)
	case "industries", "industry":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected encoded tags, got %T", col, value)
		}
		tags := decodeTags(s)
		rec.Industries = tags
		rec.Industry = tags
		return nil
	case "year":
		return setString(&rec.Year, col, value)
	case "make":
		return setString(&rec.Make, col, value)
	case "model":
		return setString(&rec.Model, col, value)
	case "vin":
		return setString(&rec.VIN, col, value)
	case "insurance_exp":
		return setString(&rec.InsuranceExp, col, value)
	case "registration_exp":
		return setString(&rec.RegistrationExp, col, value)
	case "template_used":
		return setString(&rec.TemplateUsed, col, value)
	case "comment":
		return setString(&rec.Comment, col, value)
	case "submission_date":
		return setString(&rec.SubmissionDate, col, value)
	case "approved":
		n, err := coerceInt(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", col, err)
		}
		rec.Approved = n
		return nil
	case "approved_at":
		return setStringPtr(&rec.ApprovedAt, col, value)
	case "approved_by":
		return setStringPtr(&rec.ApprovedBy, col, value)
	case "dashboard_tech_id":
		return setStringPtr(&rec.DashboardTechID, col, value)
	case "last_upload_report":
		if value == nil {
			rec.LastUploadReport = nil
			return nil
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected JSON text, got %T", col, value)
		}
		rec.LastUploadReport = json.RawMessage(s)
		return nil
	default:
		return fmt.Errorf("unknown enrollment field %q", col)
	}
}

func setString(dst *string, col string, value any) error {
	if value == nil {
		*dst = ""
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %q: expected string, got %T", col, value)
	}
	*dst = s
	return nil
}

func setStringPtr(dst **string, col string, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %q: expected string, got %T", col, value)
	}
	*dst = &s
	return nil
}

func coerceInt(value any) (int, error) {
	switch n := value.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}
