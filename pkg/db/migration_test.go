package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// TestInitDBCreatesWordsTable verifies InitDB creates the words table with
// an integer primary key and three text blob columns.
func TestInitDBCreatesWordsTable(t *testing.T) {
	dbConn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()
	dbConn.SetMaxOpenConns(1)

	if err := InitDB(dbConn); err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	// Second run must be a no-op.
	if err := InitDB(dbConn); err != nil {
		t.Fatalf("InitDB is not idempotent: %v", err)
	}

	rows, err := dbConn.Query("PRAGMA table_info(words)")
	if err != nil {
		t.Fatalf("pragmas: %v", err)
	}
	defer rows.Close()
	type col struct {
		ctype string
		pk    int
	}
	cols := map[string]col{}
	for rows.Next() {
		var cid int
		var colName, ctype string
		var notnull, pk int
		var dfltVal interface{}
		if err := rows.Scan(&cid, &colName, &ctype, &notnull, &dfltVal, &pk); err != nil {
			t.Fatalf("scan col: %v", err)
		}
		cols[colName] = col{ctype, pk}
	}
	if len(cols) != 4 {
		t.Fatalf("expected 4 columns, got %v", cols)
	}
	if c := cols["id"]; c.ctype != "INTEGER" || c.pk != 1 {
		t.Fatalf("expected id INTEGER PRIMARY KEY, got %+v", c)
	}
	for _, name := range []string{"kanji", "kana", "sense"} {
		if cols[name].ctype != "TEXT" {
			t.Fatalf("expected %s TEXT, got %+v", name, cols[name])
		}
	}
}
