package migrations

import "embed"

// FS holds the versioned SQL migration scripts for the transcript database.
//
//go:embed scripts/*.sql
var FS embed.FS
