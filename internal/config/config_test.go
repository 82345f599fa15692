package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvReturnsDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("AMANU_TEST_STRING")
	assert.Equal(t, "fallback", getEnv("AMANU_TEST_STRING", "fallback"))
}

func TestGetEnvReturnsSetValue(t *testing.T) {
	t.Setenv("AMANU_TEST_STRING", "override")
	assert.Equal(t, "override", getEnv("AMANU_TEST_STRING", "fallback"))
}

func TestGetEnvAsIntParsesValidValue(t *testing.T) {
	t.Setenv("AMANU_TEST_INT", "42")
	assert.Equal(t, 42, getEnvAsInt("AMANU_TEST_INT", 7))
}

func TestGetEnvAsIntFallsBackOnUnparseableValue(t *testing.T) {
	t.Setenv("AMANU_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvAsInt("AMANU_TEST_INT", 7))
}

func TestGetEnvAsBoolParsesValidValue(t *testing.T) {
	t.Setenv("AMANU_TEST_BOOL", "true")
	assert.True(t, getEnvAsBool("AMANU_TEST_BOOL", false))
}

func TestGetEnvAsBoolFallsBackOnUnparseableValue(t *testing.T) {
	t.Setenv("AMANU_TEST_BOOL", "nope")
	assert.False(t, getEnvAsBool("AMANU_TEST_BOOL", false))
}

func TestPersistStatusTokenSecretGeneratesAndReusesSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt-secret")

	first, err := PersistStatusTokenSecret(path)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := PersistStatusTokenSecret(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a second call must reuse the persisted secret, not regenerate one")
}
