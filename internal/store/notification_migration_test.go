package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNotificationMigrationEnforcesTypeDependentColumns(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0004_notifications.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"type = 'external' OR sender_id IS NOT NULL",
		"(message_id IS NOT NULL) = (type IN ('reply', 'reaction'))",
		"(reply_actions IS NOT NULL) = (type = 'reply')",
		"(reaction_id IS NOT NULL) = (type = 'reaction')",
		"(external_template IS NOT NULL) = (type = 'external')",
		"(external_url IS NOT NULL) = (type = 'external')",
		"cord.is_flat_metadata(metadata)",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestUserMigrationMaintainsUpdatedTimestamp(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0002_users_groups.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)
	for _, snippet := range []string{"BEFORE UPDATE ON cord.users", "NEW.updated_timestamp = CURRENT_TIMESTAMP"} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
