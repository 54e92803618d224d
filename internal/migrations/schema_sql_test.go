package migrations

import (
	"strings"
	"testing"
)

func TestConversationMigrationContainsRequiredTablesAndIndexes(t *testing.T) {
	assertMigrationContains(t, "sql/000001_conversation_state.up.sql", []string{
		"CREATE TABLE conversation_state",
		"conversation_id TEXT PRIMARY KEY",
		"last_ast JSONB NOT NULL",
		"CREATE INDEX idx_conversation_state_updated_at",
	})
	assertMigrationContains(t, "sql/000001_conversation_state.down.sql", []string{
		"DROP TABLE IF EXISTS conversation_state",
	})
}

func TestQueryAuditMigrationContainsRequiredTables(t *testing.T) {
	assertMigrationContains(t, "sql/000002_query_audit.up.sql", []string{
		"CREATE TABLE query_audit",
		"CREATE INDEX idx_query_audit_conversation",
	})
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
}

func assertMigrationContains(t *testing.T, name string, snippets []string) {
	t.Helper()
	body, err := embeddedFS.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", name, err)
	}
	sql := string(body)
	for _, snippet := range snippets {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("%s missing required snippet: %s", name, snippet)
		}
	}
}
