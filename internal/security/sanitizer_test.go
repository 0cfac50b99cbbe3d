package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePatchText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "removes null bytes",
			input:    "hello\x00 world",
			expected: "hello world",
		},
		{
			name:     "collapses whitespace",
			input:    "hello   world",
			expected: "hello world",
		},
		{
			name:     "trims leading and trailing whitespace",
			input:    "  hello world  ",
			expected: "hello world",
		},
		{
			name:     "removes control characters",
			input:    "hello\x01\x02 world",
			expected: "hello world",
		},
		{
			name:     "keeps newlines and tabs before collapsing",
			input:    "hello\n\tworld",
			expected: "hello world",
		},
		{
			name:     "normal text unchanged",
			input:    "bonjour le monde",
			expected: "bonjour le monde",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizePatchText(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
