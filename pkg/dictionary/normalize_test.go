package dictionary

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSingleKanaEntry(t *testing.T) {
	e := JMdictEntry{
		ID:   1,
		Kana: []JMdictElement{{Text: "あ", Common: true, Tags: []string{}}},
		Sense: []JMdictSense{{
			PartOfSpeech: []string{"n"},
			Gloss:        []JMdictGloss{{Text: "a"}},
		}},
	}
	got := Normalize(e)

	require.EqualValues(t, 1, got.ID)
	require.Empty(t, got.Kanji, "kanji should be omitted")
	require.Equal(t, `[{"c":1,"x":"あ"}]`, got.Kana)
	require.Equal(t, `[{"pos":["n"],"gloss":["a"]}]`, got.Sense)
}

func TestNormalizeOmitsEmptyArrays(t *testing.T) {
	tests := []struct {
		name  string
		entry JMdictEntry
	}{
		{"empty entry", JMdictEntry{ID: 2}},
		{"empty slices", JMdictEntry{ID: 3, Kanji: []JMdictElement{}, Kana: []JMdictElement{}, Sense: []JMdictSense{}}},
		{"empty nested", JMdictEntry{
			ID:    4,
			Kanji: []JMdictElement{{Text: "犬", Tags: []string{}}},
			Sense: []JMdictSense{{
				PartOfSpeech: []string{},
				Gloss:        []JMdictGloss{},
				Misc:         []string{},
				Related:      []json.RawMessage{json.RawMessage(`[]`)},
			}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.entry)
			for _, blob := range []string{got.Kanji, got.Kana, got.Sense} {
				require.NotContains(t, blob, "[]")
			}
		})
	}
}

func TestNormalizeKanjiRoundTrip(t *testing.T) {
	kanji := []JMdictElement{
		{Text: "明日", Common: true, Tags: []string{}},
		{Text: "翌日", Common: false, Tags: []string{"rK", "iK"}},
	}
	got := Normalize(JMdictEntry{ID: 5, Kanji: kanji})

	var decoded []struct {
		X string   `json:"x"`
		C int      `json:"c"`
		T []string `json:"t"`
	}
	require.NoError(t, json.Unmarshal([]byte(got.Kanji), &decoded))
	require.Len(t, decoded, len(kanji))
	for i, k := range kanji {
		wantC := 0
		if k.Common {
			wantC = 1
		}
		require.Equal(t, k.Text, decoded[i].X)
		require.Equal(t, wantC, decoded[i].C)
		if len(k.Tags) == 0 {
			require.Nil(t, decoded[i].T, "empty tags should be omitted")
		} else {
			require.Equal(t, strings.Join(k.Tags, ","), strings.Join(decoded[i].T, ","))
		}
	}
}

func TestNormalizePreservesSenseFields(t *testing.T) {
	e := JMdictEntry{
		ID: 6,
		Sense: []JMdictSense{{
			PartOfSpeech:   []string{"v5r", "vi"},
			AppliesToKanji: []string{"*"},
			Related:        []json.RawMessage{json.RawMessage(`["歩く"]`)},
			Misc:           []string{"uk"},
			Info:           []string{"of a person"},
			LanguageSource: []json.RawMessage{json.RawMessage(`{"lang":"ger","full":true,"wasei":false,"text":"Arbeit"}`)},
			Gloss:          []JMdictGloss{{Lang: "eng", Text: "to run"}, {Lang: "eng", Text: "to dash"}},
		}},
	}
	got := Normalize(e)

	var senses []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(got.Sense), &senses))
	require.Len(t, senses, 1)
	s := senses[0]
	require.NotContains(t, s, "partOfSpeech", "partOfSpeech should be renamed to pos")
	want := map[string]string{
		"pos":            `["v5r","vi"]`,
		"gloss":          `["to run","to dash"]`,
		"appliesToKanji": `["*"]`,
		"related":        `[["歩く"]]`,
		"misc":           `["uk"]`,
		"info":           `["of a person"]`,
	}
	for k, v := range want {
		require.Equal(t, v, string(s[k]), k)
	}
	require.Contains(t, s, "languageSource")
	require.NotContains(t, s, "field", "empty field array should be omitted")
}

func TestEntryIDDecodesStringAndNumber(t *testing.T) {
	for _, in := range []string{`{"id":"1000220"}`, `{"id":1000220}`} {
		var e JMdictEntry
		require.NoError(t, json.Unmarshal([]byte(in), &e), in)
		require.EqualValues(t, 1000220, e.ID, in)
	}
}

func TestEntryRequiresID(t *testing.T) {
	for _, in := range []string{`{"kana":[{"text":"あ"}]}`, `{"id":null}`} {
		var e JMdictEntry
		require.ErrorIs(t, json.Unmarshal([]byte(in), &e), ErrMissingID, in)
	}

	var e JMdictEntry
	require.NoError(t, json.Unmarshal([]byte(`{"id":0,"kana":[{"text":"ぜろ"}]}`), &e))
	require.EqualValues(t, 0, e.ID)
	require.Equal(t, "ぜろ", e.Kana[0].Text)
}
