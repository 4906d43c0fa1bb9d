package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasferrero/channelsync-backend/pkg/migrate"
)

func TestJobsMigrationContainsCoalescingIndex(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_jobs_table.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no jobs migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE jobs",
		"CREATE UNIQUE INDEX ux_jobs_identity_unfinished",
		"WHERE state IN ('pending', 'running')",
		"DROP TABLE IF EXISTS jobs",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestIdentityMigrationContainsReferenceIndex(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_integrations_and_identity.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no identity migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE UNIQUE INDEX ux_external_records_scope_code",
		"CREATE UNIQUE INDEX ux_external_records_scope_reference",
		"WHERE reference IS NOT NULL AND reference <> ''",
		"CREATE UNIQUE INDEX ux_mappings_scope_external",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
