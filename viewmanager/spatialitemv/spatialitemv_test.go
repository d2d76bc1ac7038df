package spatialitemv

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/filtermate/spatialengine/viewmanager"
)

func openTestDB(t *testing.T) *sql.DB {
	if os.Getenv("FM_SKIP_SQLITE_TESTS") == "true" {
		t.Skip("Skipping SpatiaLite-backed tests (FM_SKIP_SQLITE_TESTS=true)")
	}
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Skipf("cannot open in-memory sqlite3 database: %v", err)
	}
	if _, err := db.Exec(`SELECT load_extension('mod_spatialite')`); err != nil {
		t.Skip("mod_spatialite extension not available in this environment")
	}
	return db
}

func TestCreateAndCleanup(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	m := New(db)
	req := viewmanager.Request{
		Kind:      viewmanager.KindFilterResult,
		SessionID: "test-session",
		Query:     "SELECT 1 AS pk",
		PKColumn:  "pk",
	}

	info, hit, err := m.Create(req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if hit {
		t.Fatal("expected first Create to not be a cache hit")
	}
	if info.RowCount != 1 {
		t.Fatalf("expected row count 1, got %d", info.RowCount)
	}

	n, err := m.Cleanup("test-session")
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 table dropped, got %d", n)
	}
}
