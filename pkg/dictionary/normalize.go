package dictionary

import (
	"bytes"

	"github.com/goccy/go-json"
)

// compactElement is the stored shape of a kanji or kana writing.
type compactElement struct {
	Common int      `json:"c"`
	Text   string   `json:"x"`
	Tags   []string `json:"t,omitempty"`
}

// compactSense is the stored shape of a sense. Every slice is omitempty so
// empty arrays never reach the blob.
type compactSense struct {
	POS            []string          `json:"pos,omitempty"`
	Gloss          []string          `json:"gloss,omitempty"`
	AppliesToKanji []string          `json:"appliesToKanji,omitempty"`
	AppliesToKana  []string          `json:"appliesToKana,omitempty"`
	Related        []json.RawMessage `json:"related,omitempty"`
	Antonym        []json.RawMessage `json:"antonym,omitempty"`
	Field          []string          `json:"field,omitempty"`
	Dialect        []string          `json:"dialect,omitempty"`
	Misc           []string          `json:"misc,omitempty"`
	Info           []string          `json:"info,omitempty"`
	LanguageSource []json.RawMessage `json:"languageSource,omitempty"`
}

// Normalize maps an entry to its compact persistence form.
func Normalize(e JMdictEntry) NormalizedRecord {
	return NormalizedRecord{
		ID:    int64(e.ID),
		Kanji: mustBlob(compactElements(e.Kanji)),
		Kana:  mustBlob(compactElements(e.Kana)),
		Sense: mustBlob(compactSenses(e.Sense)),
	}
}

func compactElements(in []JMdictElement) []compactElement {
	if len(in) == 0 {
		return nil
	}
	out := make([]compactElement, 0, len(in))
	for _, el := range in {
		c := compactElement{Text: el.Text, Tags: el.Tags}
		if el.Common {
			c.Common = 1
		}
		out = append(out, c)
	}
	return out
}

func compactSenses(in []JMdictSense) []compactSense {
	if len(in) == 0 {
		return nil
	}
	out := make([]compactSense, 0, len(in))
	for _, s := range in {
		var glosses []string
		for _, g := range s.Gloss {
			glosses = append(glosses, g.Text)
		}
		out = append(out, compactSense{
			POS:            s.PartOfSpeech,
			Gloss:          glosses,
			AppliesToKanji: s.AppliesToKanji,
			AppliesToKana:  s.AppliesToKana,
			Related:        compactRaw(s.Related),
			Antonym:        compactRaw(s.Antonym),
			Field:          s.Field,
			Dialect:        s.Dialect,
			Misc:           s.Misc,
			Info:           s.Info,
			LanguageSource: compactRaw(s.LanguageSource),
		})
	}
	return out
}

// compactRaw drops raw values that are themselves empty arrays.
func compactRaw(in []json.RawMessage) []json.RawMessage {
	var out []json.RawMessage
	for _, r := range in {
		if string(bytes.TrimSpace(r)) == "[]" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// mustBlob serializes v, returning "" for an empty slice. The compact types
// contain only strings, ints and already-valid raw JSON, so Marshal cannot fail.
func mustBlob[T any](v []T) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.MarshalNoEscape(v)
	if err != nil {
		panic("dictionary: marshal compact blob: " + err.Error())
	}
	return string(b)
}
