package voice

import "testing"

func TestWakeMatcher_Match(t *testing.T) {
	t.Parallel()

	substring := NewWakeMatcher(false, 0)
	phonetic := NewWakeMatcher(true, 0)

	tests := []struct {
		name       string
		m          *WakeMatcher
		transcript string
		phrase     string
		want       bool
	}{
		{"exact", substring, "hey sathi", "hey sathi", true},
		{"case insensitive", substring, "HEY Sathi, where am I", "hey sathi", true},
		{"embedded", substring, "okay hey sathi please", "Hey Sathi", true},
		{"no match", substring, "hello there", "hey sathi", false},
		{"spelling variant needs phonetic", substring, "hey saathi", "hey sathi", false},
		{"empty transcript", substring, "  ", "hey sathi", false},
		{"empty phrase", substring, "hey sathi", "", false},
		{"nil matcher substring", nil, "hey sathi", "hey sathi", true},
		{"phonetic variant", phonetic, "hey saathi", "hey sathi", true},
		{"phonetic variant mid sentence", phonetic, "um hey sathee can you", "hey sathi", true},
		{"phonetic rejects different word", phonetic, "hey stop", "hey sathi", false},
		{"phonetic transcript too short", phonetic, "sathi", "hey sathi", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.m.Match(tc.transcript, tc.phrase); got != tc.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tc.transcript, tc.phrase, got, tc.want)
			}
		})
	}
}
