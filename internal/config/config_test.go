package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LLM_PROVIDER", "LLM_MAX_TOKENS", "LLM_TEMPERATURE", "LLM_FREQUENCY_PENALTY",
		"LLM_PRESENCE_PENALTY", "OPENAI_MODEL", "OPENAI_BASE_URL", "STORAGE_BACKEND", "DATA_DIR",
		"NAME_SUBSTITUTES", "INTERACTION_TIMEOUT", "STREAM_UPDATE_INTERVAL", "ARK_TOP_P",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, "gpt-3.5-turbo-1106", cfg.AI.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.AI.BaseURL)
	assert.Equal(t, 2048, cfg.AI.MaxTokens)
	assert.Equal(t, 1.3, cfg.AI.Temperature)
	assert.Nil(t, cfg.AI.FrequencyPenalty)
	assert.Nil(t, cfg.AI.PresencePenalty)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.Equal(t, ".", cfg.Storage.DataDir)
	assert.Empty(t, cfg.Chat.NameSubstitutes)
	assert.Equal(t, 24*time.Hour, cfg.Chat.InteractionTimeout)
	assert.Equal(t, time.Second, cfg.Chat.StreamInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("LLM_PROVIDER", "ARK")
	t.Setenv("LLM_FREQUENCY_PENALTY", "0.5")
	t.Setenv("NAME_SUBSTITUTES", "bob99=Bob, alice_x = Alice")
	t.Setenv("INTERACTION_TIMEOUT", "90m")
	t.Setenv("STORAGE_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	require.NotNil(t, cfg.AI.FrequencyPenalty)
	assert.Equal(t, 0.5, *cfg.AI.FrequencyPenalty)
	assert.Equal(t, map[string]string{"bob99": "Bob", "alice_x": "Alice"}, cfg.Chat.NameSubstitutes)
	assert.Equal(t, 90*time.Minute, cfg.Chat.InteractionTimeout)
	assert.Equal(t, StorageRedis, cfg.Storage.Backend)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                "80 80",
		"LLM_PROVIDER":        "llama",
		"LLM_TEMPERATURE":     "hot",
		"STORAGE_BACKEND":     "s3",
		"NAME_SUBSTITUTES":    "bob",
		"INTERACTION_TIMEOUT": "-1h",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestArkEnabled(t *testing.T) {
	assert.False(t, ArkConfig{}.Enabled())
	assert.True(t, ArkConfig{Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, ArkConfig{Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, ArkConfig{APIKey: "k"}.Enabled())
}
