package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sonni4154/dashboard-sub000/internal/db/models"
)

func TestInitDB_MigratesAndGeneratesAPIKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tokend.db")

	database, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}

	for _, model := range []interface{}{&models.Credential{}, &models.RefreshLog{}, &models.Config{}} {
		if !database.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T to exist", model)
		}
	}

	key := GetAPIKey(database)
	if !strings.HasPrefix(key, "tk-") {
		t.Fatalf("expected generated api key with tk- prefix, got %q", key)
	}

	// Re-opening must not rotate the key
	database2, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB reopen failed: %v", err)
	}
	if got := GetAPIKey(database2); got != key {
		t.Fatalf("api key changed across restarts: %q != %q", got, key)
	}
}

func TestRegenerateAPIKey_ReplacesKey(t *testing.T) {
	database, err := InitDB(filepath.Join(t.TempDir(), "tokend.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}

	old := GetAPIKey(database)
	regenerated := RegenerateAPIKey(database)
	if regenerated == old {
		t.Fatalf("expected a new api key, got the old one")
	}
	if got := GetAPIKey(database); got != regenerated {
		t.Fatalf("stored key %q does not match regenerated %q", got, regenerated)
	}
}
