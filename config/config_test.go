package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, warnings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ProviderOpenAI, cfg.SpeechProvider)
	assert.Equal(t, 300, cfg.PendingAudioMax)
	assert.Equal(t, 1500, cfg.OutboundQueueMax)
	assert.Equal(t, 1500*time.Millisecond, cfg.FailsafeDelay)
	assert.Equal(t, 4*time.Second, cfg.BackendTimeout)
	assert.False(t, cfg.TurnAutoResponse)
	assert.NotEmpty(t, warnings)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PENDING_AUDIO_MAX", "200")
	t.Setenv("OUTBOUND_QUEUE_MAX", "400")
	t.Setenv("FAILSAFE_DELAY", "2s")
	t.Setenv("BACKEND_TIMEOUT", "2500")
	t.Setenv("TURN_AUTO_RESPONSE", "true")
	t.Setenv("SPEECH_PROVIDER", "gemini")
	t.Setenv("PUBLIC_BASE_URL", "https://calls.example.com/")

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 200, cfg.PendingAudioMax)
	assert.Equal(t, 400, cfg.OutboundQueueMax)
	assert.Equal(t, 2*time.Second, cfg.FailsafeDelay)
	assert.Equal(t, 2500*time.Millisecond, cfg.BackendTimeout)
	assert.True(t, cfg.TurnAutoResponse)
	assert.Equal(t, ProviderGemini, cfg.SpeechProvider)
	assert.Equal(t, "https://calls.example.com", cfg.PublicBaseURL)
	assert.Equal(t, "calls.example.com", cfg.PublicHost())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "port", key: "PORT", value: "eighty"},
		{name: "provider", key: "SPEECH_PROVIDER", value: "whisper"},
		{name: "queue cap", key: "PENDING_AUDIO_MAX", value: "0"},
		{name: "auto response", key: "TURN_AUTO_RESPONSE", value: "maybe"},
		{name: "timeout", key: "SESSION_TIMEOUT", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, _, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := &Config{
		SpeechProvider: ProviderOpenAI,
		OpenAIAPIKey:   "sk-test",
		BackendURL:     "http://backend",
		ServiceToken:   "token",
		PublicBaseURL:  "http://insecure.example.com",
	}

	warnings := cfg.Warnings()
	assert.Contains(t, warnings, "PUBLIC_BASE_URL is not https: stream URLs fall back to the request host")
	assert.False(t, cfg.PublicBaseIsSecure())
	assert.Empty(t, cfg.PublicHost())
	assert.False(t, cfg.ProvisioningEnabled())
}
