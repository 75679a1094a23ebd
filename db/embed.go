// Package db embeds the schema and the demo catalog.
package db

import _ "embed"

// Schema creates every table idempotently.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the demo catalog loaded by seed-db when no file is given.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
