package logging

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithService(t *testing.T) {
	logger := WithService(slog.Default(), ServiceIMAP)
	require.NotNil(t, logger)
}

func TestAttrHelpers(t *testing.T) {
	attr := Operation("list")
	assert.Equal(t, KeyOperation, attr.Key)
	assert.Equal(t, "list", attr.Value.String())

	attr = Status("success")
	assert.Equal(t, KeyStatus, attr.Key)
	assert.Equal(t, "success", attr.Value.String())
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("connection reset"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "connection reset", attr.Value.String())

	// nil yields an empty group that slog omits
	attr = Err(nil)
	assert.Empty(t, attr.Key)
}

func TestAnonymizeEmail(t *testing.T) {
	hashed := AnonymizeEmail("jane@example.com")
	assert.True(t, strings.HasPrefix(hashed, "user:"))
	assert.Len(t, hashed, len("user:")+16)
	assert.NotContains(t, hashed, "jane")

	// Deterministic, but distinct across addresses
	assert.Equal(t, hashed, AnonymizeEmail("jane@example.com"))
	assert.NotEqual(t, hashed, AnonymizeEmail("john@example.com"))

	assert.Empty(t, AnonymizeEmail(""))
}

func TestUserHash(t *testing.T) {
	attr := UserHash("jane@example.com")
	assert.Equal(t, KeyUserHash, attr.Key)
	assert.True(t, strings.HasPrefix(attr.Value.String(), "user:"))
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	assert.Equal(t, "[token:6 chars]", SanitizeToken("abc123"))

	sanitized := SanitizeToken("a_very_long_token_string")
	assert.Equal(t, "[token:24 chars]", sanitized)
	assert.NotContains(t, sanitized, "token_string")
}
