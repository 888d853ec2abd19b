package voicecmd

import (
	"slices"
	"strings"
	"unicode"
)

// langRule flags a language when the text contains one of its words (whole
// tokens), phrases (token sequences) or, for scripts written without spaces,
// substrings.
type langRule struct {
	lang       string
	words      []string
	phrases    [][]string
	substrings []string
}

// detectRules are checked in order; the first hit wins. English comes last so
// a mixed utterance is attributed to the non-English language.
var detectRules = []langRule{
	{lang: "ne", words: []string{"कहाँ", "कसरी", "जाने", "हो"}},
	{lang: "es", words: []string{"dónde", "cómo", "ir", "es"}, phrases: [][]string{{"a", "la"}}},
	{lang: "zh", substrings: []string{"哪里", "怎么", "去", "是"}},
	{lang: "ja", substrings: []string{"どこ", "どうやって", "行く", "ですか"}},
	{lang: "hi", words: []string{"कहाँ", "कैसे", "जाना", "है"}},
	{lang: "fr", words: []string{"où", "comment", "aller", "est"}},
	{lang: "de", words: []string{"wo", "wie", "gehen", "ist"}},
	{lang: "ru", words: []string{"где", "как", "идти", "есть"}},
	{lang: "en", words: []string{"where", "how", "go", "is", "to", "the"}},
}

// DetectLanguage guesses the spoken language of text from a handful of common
// question words. It returns false when nothing matched.
func DetectLanguage(text string) (string, bool) {
	lower := strings.ToLower(text)
	tokens := tokenize(lower)
	for _, r := range detectRules {
		if r.matches(lower, tokens) {
			return r.lang, true
		}
	}
	return "", false
}

func (r langRule) matches(lower string, tokens []string) bool {
	for _, w := range r.words {
		if slices.Contains(tokens, w) {
			return true
		}
	}
	for _, p := range r.phrases {
		for i := 0; i+len(p) <= len(tokens); i++ {
			if slices.Equal(tokens[i:i+len(p)], p) {
				return true
			}
		}
	}
	for _, s := range r.substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// tokenize splits on anything that is not a letter or a combining mark, so
// Devanagari vowel signs stay attached to their word.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r)
	})
}
