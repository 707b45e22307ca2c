package user

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

func TestValidatePreferences(t *testing.T) {
	tests := []struct {
		name    string
		prefs   map[string]string
		wantErr bool
	}{
		{"valid", map[string]string{"theme": "dark", "sound_enabled": "1"}, false},
		{"empty", map[string]string{}, true},
		{"uppercase key", map[string]string{"Theme": "dark"}, true},
		{"key with digits", map[string]string{"theme2": "dark"}, true},
		{"long value", map[string]string{"bio": strings.Repeat("x", 256)}, true},
		{"max value", map[string]string{"bio": strings.Repeat("x", 255)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePreferences(tt.prefs)
			if tt.wantErr {
				assert.True(t, shared.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]string{"c": "", "a": "", "b": ""}))
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Session{}.IsExpired(now))
	assert.True(t, Session{ExpiresAt: now.Add(-time.Second)}.IsExpired(now))
	assert.False(t, Session{ExpiresAt: now.Add(time.Hour)}.IsExpired(now))
}

func TestUser_HasPassword(t *testing.T) {
	empty := ""
	hash := "$2a$10$abc"
	assert.False(t, (&User{}).HasPassword())
	assert.False(t, (&User{PasswordHash: &empty}).HasPassword())
	assert.True(t, (&User{PasswordHash: &hash}).HasPassword())
}
