// Package db carries the SQL migration files compiled into the binary, so
// the server and the seed tool can bring a fresh database up to the current
// schema without shipping loose files next to the executable.
package db

import "embed"

// Migrations holds every .sql file under migrations/, ordered by the numeric
// prefix in the file name.
//
//go:embed migrations/*.sql
var Migrations embed.FS
