package db

// Word is one row of the words table. Each blob is the compact JSON written
// by dictionary.Normalize, or empty when the column is NULL.
type Word struct {
	ID    int64
	Kanji string
	Kana  string
	Sense string
}
