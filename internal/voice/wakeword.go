package voice

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultPhoneticThreshold = 0.85

// WakeMatcher decides whether a transcript contains the wake phrase.
//
// The primary check is a case-insensitive substring match. With phonetic
// matching enabled, a transcript also matches when some window of words has
// the same Double Metaphone codes as the phrase and a Jaro-Winkler similarity
// of at least the threshold, so "hey saathi" or "hey sathee" still wake the
// assistant.
type WakeMatcher struct {
	phonetic  bool
	threshold float64
}

// NewWakeMatcher returns a matcher. threshold <= 0 selects the default (0.85).
func NewWakeMatcher(phonetic bool, threshold float64) *WakeMatcher {
	if threshold <= 0 {
		threshold = defaultPhoneticThreshold
	}
	return &WakeMatcher{phonetic: phonetic, threshold: threshold}
}

// Match reports whether transcript contains phrase.
func (m *WakeMatcher) Match(transcript, phrase string) bool {
	t := strings.ToLower(strings.TrimSpace(transcript))
	p := strings.ToLower(strings.TrimSpace(phrase))
	if t == "" || p == "" {
		return false
	}
	if strings.Contains(t, p) {
		return true
	}
	if m == nil || !m.phonetic {
		return false
	}

	words := strings.Fields(t)
	want := strings.Fields(p)
	n := len(want)
	if len(words) < n {
		return false
	}
	wantCodes := primaryCodes(want)
	for i := 0; i+n <= len(words); i++ {
		window := words[i : i+n]
		if !sameCodes(primaryCodes(window), wantCodes) {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, " "), p, false) >= m.threshold {
			return true
		}
	}
	return false
}

// primaryCodes returns the primary Double Metaphone code of every word.
// Words without consonants ("hey") contribute an empty code.
func primaryCodes(words []string) []string {
	codes := make([]string, len(words))
	for i, w := range words {
		codes[i], _ = matchr.DoubleMetaphone(strings.Trim(w, ".,!?"))
	}
	return codes
}

func sameCodes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
