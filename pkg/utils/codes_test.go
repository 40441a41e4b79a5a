package utils

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	code, err := NewCode()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(code)
	require.NoError(t, err, "code must be URL-safe base64 without padding")
	assert.Len(t, raw, codeBytes)
	assert.NotContains(t, code, "=")
	assert.NotContains(t, code, "+")
	assert.NotContains(t, code, "/")
}

func TestNewCodeUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 256; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		require.False(t, seen[code], "codes must not repeat")
		seen[code] = true
	}
}

func TestHashCode(t *testing.T) {
	code, err := NewCode()
	require.NoError(t, err)

	h1 := HashCode(code)
	h2 := HashCode(code)
	assert.Equal(t, h1, h2, "digest must be deterministic")
	assert.Len(t, h1, 64, "blake2b-256 hex digest is 64 chars")
	assert.NotEqual(t, code, h1)

	other, err := NewCode()
	require.NoError(t, err)
	assert.NotEqual(t, HashCode(other), h1)
}
