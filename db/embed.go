// Package db embeds the PostgreSQL schema and the demo catalog.
package db

import _ "embed"

// Schema holds the idempotent DDL for every table, applied at startup.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the demo catalog in the catalog feed format. It backs
// in-memory mode when no catalog file is configured.
//
//go:embed seed/products.json
var SeedCatalog []byte
