package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Speech providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds all server configuration
type Config struct {
	Port          int
	PublicBaseURL string

	// Twilio REST credentials (number provisioning only)
	TwilioAccountSID string
	TwilioAuthToken  string

	// Knowledge backend
	BackendURL     string
	ServiceToken   string
	BackendTimeout time.Duration

	// Speech model
	SpeechProvider   string // "openai" or "gemini"
	OpenAIAPIKey     string
	RealtimeModel    string
	RealtimeVoice    string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiVoice      string
	TurnAutoResponse bool

	// Relay tuning
	PendingAudioMax  int
	OutboundQueueMax int
	AudioPrimeFrames int
	FailsafeDelay    time.Duration

	// Logging
	LogSampleRate int
	LogLevel      string
	LogFile       string

	// Session registry
	RedisURL       string
	RedisPassword  string
	MaxSessions    int
	SessionTimeout time.Duration
}

// Load reads configuration from the environment (and .env if present).
// Missing credentials are not errors: they are returned as warnings and the
// matching feature runs degraded. Only malformed values fail the load.
func Load() (*Config, []string, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             8080,
		BackendTimeout:   4 * time.Second,
		SpeechProvider:   ProviderOpenAI,
		RealtimeModel:    "gpt-4o-realtime-preview",
		RealtimeVoice:    "alloy",
		GeminiModel:      "models/gemini-2.5-flash-native-audio-preview-12-2025",
		GeminiVoice:      "Zephyr",
		PendingAudioMax:  300,
		OutboundQueueMax: 1500,
		FailsafeDelay:    1500 * time.Millisecond,
		LogSampleRate:    100,
		LogLevel:         "info",
		RedisURL:         "localhost:6379",
		MaxSessions:      100,
		SessionTimeout:   30 * time.Minute,
		TurnAutoResponse: false,
	}

	cfg.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	cfg.ServiceToken = os.Getenv("SERVICE_TOKEN")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.LogFile = os.Getenv("LOG_FILE")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	setString(&cfg.RealtimeModel, "REALTIME_MODEL")
	setString(&cfg.RealtimeVoice, "REALTIME_VOICE")
	setString(&cfg.GeminiModel, "GEMINI_MODEL")
	setString(&cfg.GeminiVoice, "GEMINI_VOICE")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.RedisURL, "REDIS_URL")

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &cfg.Port},
		{"PENDING_AUDIO_MAX", &cfg.PendingAudioMax},
		{"OUTBOUND_QUEUE_MAX", &cfg.OutboundQueueMax},
		{"AUDIO_PRIME_FRAMES", &cfg.AudioPrimeFrames},
		{"LOG_SAMPLE_RATE", &cfg.LogSampleRate},
		{"MAX_SESSIONS", &cfg.MaxSessions},
	}
	for _, f := range ints {
		if err := setInt(f.dst, f.key); err != nil {
			return nil, nil, err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BACKEND_TIMEOUT", &cfg.BackendTimeout},
		{"FAILSAFE_DELAY", &cfg.FailsafeDelay},
		{"SESSION_TIMEOUT", &cfg.SessionTimeout},
	}
	for _, f := range durations {
		if err := setDuration(f.dst, f.key); err != nil {
			return nil, nil, err
		}
	}

	if v := os.Getenv("TURN_AUTO_RESPONSE"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid TURN_AUTO_RESPONSE: %w", err)
		}
		cfg.TurnAutoResponse = b
	}

	if provider := os.Getenv("SPEECH_PROVIDER"); provider != "" {
		switch provider {
		case ProviderOpenAI, ProviderGemini:
			cfg.SpeechProvider = provider
		default:
			return nil, nil, fmt.Errorf("invalid SPEECH_PROVIDER: must be '%s' or '%s'", ProviderOpenAI, ProviderGemini)
		}
	}

	if cfg.PendingAudioMax <= 0 {
		return nil, nil, fmt.Errorf("invalid PENDING_AUDIO_MAX: must be positive")
	}
	if cfg.LogSampleRate <= 0 {
		cfg.LogSampleRate = 1
	}

	return cfg, cfg.Warnings(), nil
}

// Warnings lists configuration gaps that degrade features without stopping
// the server.
func (c *Config) Warnings() []string {
	var warnings []string

	switch c.SpeechProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			warnings = append(warnings, "GEMINI_API_KEY is not set: calls cannot reach the speech model")
		}
	default:
		if c.OpenAIAPIKey == "" {
			warnings = append(warnings, "OPENAI_API_KEY is not set: calls cannot reach the speech model")
		}
	}
	if c.BackendURL == "" {
		warnings = append(warnings, "BACKEND_URL is not set: graph context and turn logging are disabled")
	}
	if c.ServiceToken == "" {
		warnings = append(warnings, "SERVICE_TOKEN is not set: backend requests are unauthenticated")
	}
	if c.PublicBaseURL == "" {
		warnings = append(warnings, "PUBLIC_BASE_URL is not set: stream URLs fall back to the request host")
	} else if !c.PublicBaseIsSecure() {
		warnings = append(warnings, "PUBLIC_BASE_URL is not https: stream URLs fall back to the request host")
	}
	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
		warnings = append(warnings, "TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN not set: number provisioning is disabled")
	}
	return warnings
}

// PublicBaseIsSecure reports whether PUBLIC_BASE_URL can be turned into a wss:// URL.
func (c *Config) PublicBaseIsSecure() bool {
	u, err := url.Parse(c.PublicBaseURL)
	return err == nil && u.Scheme == "https" && u.Host != ""
}

// PublicHost returns the host of PUBLIC_BASE_URL when it is https, or "".
func (c *Config) PublicHost() string {
	if !c.PublicBaseIsSecure() {
		return ""
	}
	u, _ := url.Parse(c.PublicBaseURL)
	return u.Host
}

// ProvisioningEnabled reports whether Twilio REST credentials are configured.
func (c *Config) ProvisioningEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go duration strings ("1.5s") or a bare number of milliseconds.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if ms, err := cast.ToInt64E(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
