package storage

import (
	"testing"

	"ureka/internal/config"
)

func TestRebindPostgres(t *testing.T) {
	got := Rebind("postgres", `UPDATE chats SET name = ? WHERE id = ? AND user_id = ?`)
	want := `UPDATE chats SET name = $1 WHERE id = $2 AND user_id = $3`
	if got != want {
		t.Fatalf("unexpected rebind: %s", got)
	}
	if q := Rebind("sqlite3", "SELECT ?"); q != "SELECT ?" {
		t.Fatalf("sqlite query should be untouched: %s", q)
	}
}

func TestOpenAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite", cfg)
	if err == nil {
		db.Close()
		t.Fatalf("expected missing config error for alias key")
	}
	db, err = Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// idempotent
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='chat_files'`).Scan(&name); err != nil {
		t.Fatalf("chat_files table missing: %v", err)
	}
}
