package sqlassets

import _ "embed"

//go:embed schema/postgres/core.sql
var PostgresCoreSQL string

//go:embed schema/postgres/checklist.sql
var PostgresChecklistSQL string

//go:embed schema/sqlite/core.sql
var SQLiteCoreSQL string
