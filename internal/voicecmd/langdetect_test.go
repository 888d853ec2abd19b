package voicecmd

import "testing"

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"nepali", "लुम्बिनी कसरी जाने", "ne", true},
		{"spanish question word", "¿Dónde está el hospital?", "es", true},
		{"spanish phrase", "quiero ir a la playa", "es", true},
		{"chinese", "北京在哪里", "zh", true},
		{"japanese", "駅はどこですか", "ja", true},
		{"hindi", "स्टेशन कैसे जाना", "hi", true},
		{"french", "où est la gare", "fr", true},
		{"german", "wo ist der Bahnhof", "de", true},
		{"russian", "где вокзал", "ru", true},
		{"english", "Where is the station", "en", true},
		{"substring is not a word", "directions to pokhara", "en", true},
		{"non-english wins over english", "where dónde", "es", true},
		{"no hit", "lumbini", "", false},
		{"digits only", "42", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DetectLanguage(tc.text)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("DetectLanguage(%q) = %q, %v; want %q, %v", tc.text, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := tokenize("go to: ring-road, 2nd gate!")
	want := []string{"go", "to", "ring", "road", "2nd", "gate"}
	if len(got) != len(want) {
		t.Fatalf("tokenize() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
