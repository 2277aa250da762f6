// Package db embeds the SQL schema applied on startup.
package db

import _ "embed"

// Schema holds the DDL for drafts, orders, sequence counters, and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
