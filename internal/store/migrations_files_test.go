package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	ups, err := migrationFiles(migrationsDir, "up")
	if err != nil {
		t.Fatalf("read up migrations: %v", err)
	}
	downs, err := migrationFiles(migrationsDir, "down")
	if err != nil {
		t.Fatalf("read down migrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}

	seen := map[string]int{}
	for _, f := range ups {
		seen[f.version]++
	}
	for _, f := range downs {
		seen[f.version] += 10
	}
	for version, marks := range seen {
		if marks != 11 {
			t.Fatalf("version %s must include exactly one up and one down file", version)
		}
	}

	for i := 1; i < len(ups); i++ {
		if ups[i-1].version >= ups[i].version {
			t.Fatalf("migrations out of order: %s before %s", ups[i-1].name, ups[i].name)
		}
	}
}

func TestSubmissionMigrationCoversEveryEntityTable(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(migrationsDir, "0002_submissions.up.sql"))
	if err != nil {
		t.Fatalf("read submissions migration: %v", err)
	}
	for _, table := range entityTables() {
		if !strings.Contains(string(contents), "'"+table+"'") {
			t.Fatalf("submissions migration does not create %s", table)
		}
	}
}
