package namehelper

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Song Title.mp3", "Song_Title.mp3"},
		{"a/b\\c:d.mp4", "a_b_c_d.mp4"},
		{"what?.mp3", "what_.mp3"},
		{"<angle>|pipe\".mp3", "_angle__pipe_.mp3"},
		{"Café.mp3", "Cafe.mp3"},
		{"日本語タイトル.mp3", "_.mp3"},
		{"already_clean.mp3", "already_clean.mp3"},
		{"", ""},
	}

	for _, test := range tests {
		result := Sanitize(test.input)
		if result != test.expected {
			t.Errorf("Sanitize(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"Song Title_192k.mp3",
		"Café: The/Best?.mp4",
		"普通话标题 2024.mp3",
	}

	for _, input := range inputs {
		once := Sanitize(input)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Expected Sanitize to be idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}

func TestFileStem(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Song_192k.mp3", "Song_192k"},
		{"archive.tar.gz", "archive"},
		{"noext", "noext"},
		{"", ""},
	}

	for _, test := range tests {
		result := FileStem(test.input)
		if result != test.expected {
			t.Errorf("FileStem(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}
