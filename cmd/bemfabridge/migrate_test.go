package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/database"
	"github.com/nerrad567/bemfa-bridge/migrations"
)

func TestPrintMigrationStatus(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "history.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	ctx := context.Background()

	var before bytes.Buffer
	if err := printMigrationStatus(ctx, db, &before); err != nil {
		t.Fatalf("printMigrationStatus() error = %v", err)
	}
	if !strings.Contains(before.String(), "pending") || strings.Contains(before.String(), "applied") {
		t.Errorf("fresh database status:\n%s", before.String())
	}

	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	var after bytes.Buffer
	if err := printMigrationStatus(ctx, db, &after); err != nil {
		t.Fatalf("printMigrationStatus() error = %v", err)
	}
	if !strings.Contains(after.String(), "applied") {
		t.Errorf("migrated database status:\n%s", after.String())
	}
	if strings.Contains(after.String(), "pending") {
		t.Errorf("pending migrations after Migrate:\n%s", after.String())
	}
}
