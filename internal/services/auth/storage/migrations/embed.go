// Package migrations contains the embedded tenant schema shared by the
// SQLite and Postgres stores.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
