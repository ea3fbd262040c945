// Package database opens the SQLite file that holds device state history
// and applies schema migrations to it.
//
// Migrations are read from an fs.FS, normally the embedded migrations
// package, and named YYYYMMDD_HHMMSS_label.up.sql with an optional
// .down.sql partner. Applied versions are recorded in schema_migrations.
package database
