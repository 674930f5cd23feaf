package strings

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "short string unchanged",
			input:    "hello",
			maxLen:   10,
			expected: "hello",
		},
		{
			name:     "exact length unchanged",
			input:    "hello",
			maxLen:   5,
			expected: "hello",
		},
		{
			name:     "long string truncated",
			input:    "workflow node config failed: quota exceeded",
			maxLen:   15,
			expected: "workflow nod...",
		},
		{
			name:     "multi-line error flattened",
			input:    "2 errors:\n\tconfig: boom\n\tsecret:  gone",
			maxLen:   100,
			expected: "2 errors: config: boom secret: gone",
		},
		{
			name:     "unicode cut on rune boundary",
			input:    "日本語のエラーメッセージ",
			maxLen:   6,
			expected: "日本語...",
		},
		{
			name:     "tiny maxLen clamped",
			input:    "abcdef",
			maxLen:   1,
			expected: "a...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}
