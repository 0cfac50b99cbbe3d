package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewValidator(t *testing.T) {
	v := NewValidator()
	assert.NotNil(t, v)
}

func TestValidator_ValidateRoomSlug(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		slug      string
		wantError bool
	}{
		{"valid slug", "keynote-2026", false},
		{"valid with underscore", "team_standup", false},
		{"empty", "", true},
		{"too short", "a", true},
		{"too long", "this-room-slug-is-way-too-long-and-should-fail-validation-check-here", true},
		{"special chars", "room#1", true},
		{"with spaces", "room one", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRoomSlug(tt.slug)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateUnitID(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		unitID    string
		wantError bool
	}{
		{"valid unit id", "speaker1|en-US|0", false},
		{"valid with larger seq", "speaker1|en-US|42", false},
		{"empty", "", true},
		{"missing segments", "speaker1|en-US", true},
		{"non-numeric seq", "speaker1|en-US|abc", true},
		{"extra pipe in seq", "speaker1|en-US|0|1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateUnitID(tt.unitID)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateBCP47(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		tag       string
		wantError bool
	}{
		{"valid en-US", "en-US", false},
		{"valid fr-CA", "fr-CA", false},
		{"valid bare language", "en", false},
		{"empty", "", true},
		{"invalid characters", "en_US", true},
		{"too long", "this-is-not-a-real-bcp47-language-tag-at-all", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBCP47(tt.tag)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
