package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEventRecordsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_event_records.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no event records migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS event_records",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_event_records_event_category",
		"CREATE INDEX IF NOT EXISTS idx_event_records_status",
		"CREATE INDEX IF NOT EXISTS idx_event_records_status_changed_at",
		"DROP TABLE IF EXISTS event_records",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAccountChangesMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_account_changes.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no account changes migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS account_changes",
		"CREATE INDEX IF NOT EXISTS idx_account_changes_actor_id",
		"CREATE INDEX IF NOT EXISTS idx_account_changes_status",
		"DROP TABLE IF EXISTS account_changes",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
