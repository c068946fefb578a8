package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
)

// encodeTags serializes an industry tag list to the JSON text stored in the
// industries and industry columns. A nil list encodes as "[]".
func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

// decodeTags parses a stored industry value. Legacy rows may hold a bare
// comma-separated string instead of a JSON array; anything unreadable decodes
// to an empty list rather than failing the read.
func decodeTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err == nil {
		if tags == nil {
			tags = []string{}
		}
		return tags
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// coerceTags normalizes an update value for the industry fields, accepting a
// list of strings or a comma-separated string.
func coerceTags(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("industry tag must be a string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return decodeTags(val), nil
	default:
		return nil, fmt.Errorf("industry tags must be a string list, got %T", v)
	}
}

// encodeRecipients joins a recipient list into the stored comma-separated
// form.
func encodeRecipients(recipients []string) string {
	return strings.Join(recipients, ",")
}

// decodeRecipients splits a stored recipient string, dropping empty entries.
func decodeRecipients(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
