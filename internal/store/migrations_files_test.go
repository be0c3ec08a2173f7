package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
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

func TestInitMigrationEnforcesDomainConstraints(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0001_init.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	// The category set is a database constraint, not just an application
	// enum; the FTS columns back the Postgres search fallback.
	expectedSnippets := []string{
		"CHECK (category IN ('general', 'premium', 'jee', 'class12'))",
		"credits            INTEGER NOT NULL DEFAULT 50",
		"TSVECTOR GENERATED ALWAYS",
		"CREATE INDEX IF NOT EXISTS idx_polls_active ON polls (is_active) WHERE is_active",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("migration is missing %q", snippet)
		}
	}
}
