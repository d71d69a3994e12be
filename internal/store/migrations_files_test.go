package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	byVersion := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestTenantDocumentsMigrationDefinesCompositeKey(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_tenant_documents.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(contents)
	for _, want := range []string{"tenant_documents", "JSONB", "version", "PRIMARY KEY (tenant_id, doc_key)"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("migration is missing %q", want)
		}
	}
}

func TestMigrationFilesOrdersByDirection(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	ups, err := migrationFiles(dir, "up")
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(ups) != 2 || filepath.Base(ups[0]) != "0001_a.up.sql" || filepath.Base(ups[1]) != "0002_b.up.sql" {
		t.Fatalf("unexpected up files: %v", ups)
	}

	downs, err := migrationFiles(dir, "down")
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(downs) != 1 {
		t.Fatalf("unexpected down files: %v", downs)
	}
}
