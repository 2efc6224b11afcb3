package config

import "testing"

func TestDownloadConfig_NormalizeQuality(t *testing.T) {
	cfg := DownloadConfig{
		AudioQualities:      []string{"64k", "128k", "192k", "256k", "320k"},
		VideoQualities:      []string{"360p", "720p", "1080p"},
		DefaultAudioQuality: "192k",
		DefaultVideoQuality: "720p",
	}

	tests := []struct {
		mediaType string
		quality   string
		expected  string
	}{
		{"audio", "320k", "320k"},
		{"audio", "", "192k"},
		{"audio", "999k", "192k"},
		{"audio", "720p", "192k"},
		{"video", "1080p", "1080p"},
		{"video", "", "720p"},
		{"video", "192k", "720p"},
	}

	for _, test := range tests {
		result := cfg.NormalizeQuality(test.mediaType, test.quality)
		if result != test.expected {
			t.Errorf("NormalizeQuality(%s, %s) = %s, expected %s", test.mediaType, test.quality, result, test.expected)
		}
	}
}
