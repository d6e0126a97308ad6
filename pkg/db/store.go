package db

import (
	"database/sql"
	"fmt"

	"github.com/japaniel/jmdictdb/pkg/dictionary"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const upsertWordSQL = `INSERT INTO words (id, kanji, kana, sense)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	  kanji = excluded.kanji,
	  kana = excluded.kana,
	  sense = excluded.sense`

// UpsertWord inserts the record or replaces the row with the same id.
// It is a single statement, so the row is either fully written or untouched.
func UpsertWord(db DBExecutor, rec dictionary.NormalizedRecord) error {
	_, err := db.Exec(upsertWordSQL, rec.ID, nullableBlob(rec.Kanji), nullableBlob(rec.Kana), nullableBlob(rec.Sense))
	if err != nil {
		return fmt.Errorf("upsert word %d: %w", rec.ID, err)
	}
	return nil
}

// nullableBlob returns nil for an omitted blob, else the value.
func nullableBlob(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CountWords returns the number of rows in the words table.
func CountWords(db DBExecutor) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM words`).Scan(&n)
	return n, err
}

// GetWord loads one row by id; NULL blobs come back empty. It returns
// sql.ErrNoRows when absent.
func GetWord(db DBExecutor, id int64) (Word, error) {
	var w Word
	var kanji, kana, sense sql.NullString
	err := db.QueryRow(`SELECT id, kanji, kana, sense FROM words WHERE id = ?`, id).Scan(&w.ID, &kanji, &kana, &sense)
	if err != nil {
		return Word{}, err
	}
	w.Kanji = kanji.String
	w.Kana = kana.String
	w.Sense = sense.String
	return w, nil
}
