package persistence

import "strings"

// splitStatements breaks an embedded schema file into individual statements.
// The schema files hold plain DDL with no procedural bodies, so splitting on
// semicolons is safe.
func splitStatements(ddl string) []string {
	parts := strings.Split(ddl, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
