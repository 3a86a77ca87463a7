package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/jarvis/internal/protocol"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, protocol.VariantV1BetaSnake, cfg.UpstreamProtocol)
	assert.Equal(t, "models/gemini-2.0-flash-exp", cfg.Model)
	assert.Equal(t, "Kore", cfg.Voice)
	assert.Equal(t, []string{"AUDIO"}, cfg.ResponseModalities)
	assert.Equal(t, DefaultSystemInstruction, cfg.SystemInstruction)
	assert.Equal(t, 500*time.Millisecond, cfg.KickstartDelay)
	assert.Nil(t, cfg.KickstartEnabled)
	assert.Empty(t, cfg.GeminiAPIKey)
}

func TestLoadPortAndOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PORT", "9191")
	t.Setenv("GEMINI_API_KEY", ` "abc 123' `)
	t.Setenv("UPSTREAM_PROTOCOL", protocol.VariantV1AlphaCamel)
	t.Setenv("GEMINI_RESPONSE_MODALITIES", "audio, text")
	t.Setenv("KICKSTART_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.BindAddr)
	// Normalization belongs to the credential resolver.
	assert.Equal(t, ` "abc 123' `, cfg.GeminiAPIKey)
	assert.Equal(t, []string{"AUDIO", "TEXT"}, cfg.ResponseModalities)

	v, err := cfg.Variant()
	require.NoError(t, err)
	require.NotNil(t, cfg.KickstartEnabled)
	assert.False(t, cfg.Kickstart(v))
}

func TestKickstartFollowsVariantByDefault(t *testing.T) {
	cfg := Config{}
	camel, _ := protocol.Lookup(protocol.VariantV1AlphaCamel)
	snake, _ := protocol.Lookup(protocol.VariantV1BetaSnake)
	assert.True(t, cfg.Kickstart(camel))
	assert.False(t, cfg.Kickstart(snake))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":              "70000",
		"UPSTREAM_PROTOCOL": "v9",
		"KICKSTART_DELAY":   "soon",
		"KICKSTART_ENABLED": "maybe",
		"JOURNAL_RETENTION": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	setCoreEnvEmpty(t)
	// godotenv never overrides variables that are already set, so clear the
	// key entirely for this test.
	prev, had := os.LookupEnv("GEMINI_VOICE")
	require.NoError(t, os.Unsetenv("GEMINI_VOICE"))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv("GEMINI_VOICE", prev)
		} else {
			_ = os.Unsetenv("GEMINI_VOICE")
		}
	})

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_VOICE=Charon\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Charon", cfg.Voice)
}

func TestLoadFailsOnMissingNamedEnvFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "missing.env")

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"PORT",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"GEMINI_VOICE",
		"GEMINI_RESPONSE_MODALITIES",
		"SYSTEM_INSTRUCTION",
		"UPSTREAM_HOST",
		"UPSTREAM_PROTOCOL",
		"UPSTREAM_DIAL_TIMEOUT",
		"KICKSTART_ENABLED",
		"KICKSTART_TEXT",
		"KICKSTART_DELAY",
		"SESSION_FAILURE_LINGER",
		"WS_READ_LIMIT",
		"DATABASE_URL",
		"JOURNAL_RETENTION",
		"LOG_LEVEL",
		"LOG_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
