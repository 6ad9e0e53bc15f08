package db

import (
	"strings"
	"testing"
)

func TestMigrationsEmbedUsersTable(t *testing.T) {
	script, err := migrationFiles.ReadFile("migrations/001_create_users.sql")
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}

	for _, want := range []string{"CREATE TABLE IF NOT EXISTS users", "users_username_key", "users_email_lower_idx", "token_version"} {
		if !strings.Contains(string(script), want) {
			t.Fatalf("migration is missing %q", want)
		}
	}
}

func TestMigrationVersionsSorted(t *testing.T) {
	versions, err := migrationVersions()
	if err != nil {
		t.Fatalf("migrationVersions: %v", err)
	}
	if len(versions) == 0 || versions[0] != "001_create_users.sql" {
		t.Fatalf("versions = %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i-1] >= versions[i] {
			t.Fatalf("versions not sorted: %v", versions)
		}
	}
}
