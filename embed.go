package voicechat

import "embed"

// MigrationsFS carries the SQL migrations so the binary can bootstrap its own
// schema at startup.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
