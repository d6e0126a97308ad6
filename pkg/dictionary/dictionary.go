package dictionary

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// EntryID is the numeric JMdict sequence number of an entry.
// jmdict-simplified encodes it as a string, older dumps as a number; both decode.
type EntryID int64

func (id *EntryID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("entry id %q: %w", b, err)
	}
	*id = EntryID(n)
	return nil
}

// ErrMissingID is returned when decoding an entry without an "id".
var ErrMissingID = errors.New("entry has no id")

// JMdictEntry matches the structure of jmdict-simplified entries.
type JMdictEntry struct {
	ID    EntryID         `json:"id"`
	Kanji []JMdictElement `json:"kanji"`
	Kana  []JMdictElement `json:"kana"`
	Sense []JMdictSense   `json:"sense"`
}

// UnmarshalJSON rejects entries whose id is absent or null; id 0 is valid.
func (e *JMdictEntry) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID    *EntryID        `json:"id"`
		Kanji []JMdictElement `json:"kanji"`
		Kana  []JMdictElement `json:"kana"`
		Sense []JMdictSense   `json:"sense"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.ID == nil {
		return ErrMissingID
	}
	*e = JMdictEntry{ID: *raw.ID, Kanji: raw.Kanji, Kana: raw.Kana, Sense: raw.Sense}
	return nil
}

// JMdictElement is a kanji or kana writing of an entry.
type JMdictElement struct {
	Text           string   `json:"text"`
	Common         bool     `json:"common"`
	Tags           []string `json:"tags"`
	AppliesToKanji []string `json:"appliesToKanji,omitempty"`
}

type JMdictSense struct {
	PartOfSpeech   []string          `json:"partOfSpeech"`
	AppliesToKanji []string          `json:"appliesToKanji"`
	AppliesToKana  []string          `json:"appliesToKana"`
	Related        []json.RawMessage `json:"related"`
	Antonym        []json.RawMessage `json:"antonym"`
	Field          []string          `json:"field"`
	Dialect        []string          `json:"dialect"`
	Misc           []string          `json:"misc"`
	Info           []string          `json:"info"`
	LanguageSource []json.RawMessage `json:"languageSource"`
	Gloss          []JMdictGloss     `json:"gloss"`
}

type JMdictGloss struct {
	Lang   string `json:"lang"` // defaults to 'eng' if missing
	Gender string `json:"gender,omitempty"`
	Type   string `json:"type,omitempty"`
	Text   string `json:"text"`
}

// Metadata holds the document-level fields that surround the words array.
type Metadata struct {
	Version       string            `json:"version"`
	Languages     []string          `json:"languages"`
	CommonOnly    bool              `json:"commonOnly"`
	DictDate      string            `json:"dictDate"`
	DictRevisions []string          `json:"dictRevisions"`
	Tags          map[string]string `json:"tags"`
}

// NormalizedRecord is the persistence form of an entry. An empty blob means
// the collection was empty and is stored as NULL.
type NormalizedRecord struct {
	ID    int64
	Kanji string
	Kana  string
	Sense string
}
