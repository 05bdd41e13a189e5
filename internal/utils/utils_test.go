package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRunID(t *testing.T) {
	id1 := GenerateRunID()
	id2 := GenerateRunID()

	// IDs should be unique
	assert.NotEqual(t, id1, id2)

	// IDs should have correct prefix
	assert.Contains(t, id1, "run_")
	assert.Contains(t, id2, "run_")

	// IDs should be reasonable length
	assert.True(t, len(id1) > 4)
	assert.True(t, len(id2) > 4)
}

func TestSafeBool(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected bool
	}{
		{"nil", nil, false},
		{"true bool", true, true},
		{"false bool", false, false},
		{"true string", "true", true},
		{"yes string", "YES", true},
		{"one string", "1", true},
		{"other string", "nope", false},
		{"nonzero int", 3, true},
		{"zero int", 0, false},
		{"nonzero float", 0.5, true},
		{"zero float", 0.0, false},
		{"object", map[string]interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SafeBool(tt.value))
		})
	}
}

func TestSafeInt(t *testing.T) {
	assert.Equal(t, 5, SafeInt(5, 0))
	assert.Equal(t, 5, SafeInt(int64(5), 0))
	assert.Equal(t, 5, SafeInt(5.9, 0))
	assert.Equal(t, 5, SafeInt("5", 0))
	assert.Equal(t, 7, SafeInt("not a number", 7))
	assert.Equal(t, 7, SafeInt(nil, 7))
}

func TestSafeString(t *testing.T) {
	assert.Equal(t, "", SafeString(nil))
	assert.Equal(t, "hello", SafeString("hello"))
	assert.Equal(t, "42", SafeString(42))
}
