package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice agent bridge.
type Config struct {
	BindAddr         string
	PublicURL        string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DeepgramAPIKey   string
	DeepgramAgentURL string
	DeepgramTTSModel string

	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration
	VoiceModel     string
	SMSModel       string

	OwnerPhone              string
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioPhoneNumber       string
	TwilioValidateSignature bool

	ControlAPIToken      string
	ControlLocalhostOnly bool

	PersonaEnabled  bool
	Workspace       string
	PersonaMaxChars int

	StateDir    string
	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8000"),
		PublicURL:         strings.TrimRight(trimmedEnv("PUBLIC_URL"), "/"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "deepclaw"),
		DeepgramAPIKey:    trimmedEnv("DEEPGRAM_API_KEY"),
		DeepgramAgentURL:  envOrDefault("DEEPGRAM_AGENT_URL", "wss://agent.deepgram.com/v1/agent/converse"),
		DeepgramTTSModel:  envOrDefault("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		GatewayURL:        strings.TrimRight(envOrDefault("OPENCLAW_GATEWAY_URL", "http://127.0.0.1:18789"), "/"),
		GatewayToken:      trimmedEnv("OPENCLAW_GATEWAY_TOKEN"),
		VoiceModel:        envOrDefault("OPENCLAW_VOICE_MODEL", "openclaw/voice"),
		SMSModel:          envOrDefault("OPENCLAW_SMS_MODEL", "openclaw/voice"),
		OwnerPhone:        trimmedEnv("OWNER_PHONE"),
		TwilioAccountSID:  trimmedEnv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   trimmedEnv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: trimmedEnv("TWILIO_PHONE_NUMBER"),
		ControlAPIToken:   trimmedEnv("CONTROL_API_TOKEN"),
		Workspace:         envOrDefault("OPENCLAW_MAIN_WORKSPACE", "~/.openclaw/workspace"),
		StateDir:          trimmedEnv("DEEPCLAW_STATE_DIR"),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),

		ShutdownTimeout:         15 * time.Second,
		GatewayTimeout:          60 * time.Second,
		TwilioValidateSignature: true,
		ControlLocalhostOnly:    true,
		PersonaEnabled:          true,
		PersonaMaxChars:         12000,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayTimeout, err = durationFromEnv("OPENCLAW_GATEWAY_TIMEOUT", cfg.GatewayTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TwilioValidateSignature, err = boolFromEnv("TWILIO_VALIDATE_SIGNATURES", cfg.TwilioValidateSignature)
	if err != nil {
		return Config{}, err
	}
	cfg.ControlLocalhostOnly, err = boolFromEnv("CONTROL_API_LOCALHOST_ONLY", cfg.ControlLocalhostOnly)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonaEnabled, err = boolFromEnv("VOICE_SHARED_PERSONA_ENABLED", cfg.PersonaEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.PersonaMaxChars, err = intFromEnv("VOICE_PERSONA_MAX_CHARS", cfg.PersonaMaxChars)
	if err != nil {
		return Config{}, err
	}

	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.StateDir = filepath.Join(home, ".deepclaw")
	}

	if cfg.DeepgramAPIKey == "" {
		return Config{}, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.GatewayToken == "" {
		return Config{}, fmt.Errorf("OPENCLAW_GATEWAY_TOKEN is required")
	}
	if cfg.PersonaMaxChars <= 0 {
		return Config{}, fmt.Errorf("VOICE_PERSONA_MAX_CHARS must be positive")
	}
	if cfg.GatewayTimeout < time.Second {
		return Config{}, fmt.Errorf("OPENCLAW_GATEWAY_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
