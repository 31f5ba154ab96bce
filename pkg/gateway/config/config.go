package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	// Operator endpoints (/readyz detail, /metrics) use bearer keys.
	// The telephony webhook authenticates via provider signature
	// instead and is unaffected by AuthMode.
	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// PublicBaseURL is the externally reachable base URL of this
	// process, used to build the stream URL in the call-control
	// document (https://... ; the stream URL is derived as wss://...).
	PublicBaseURL string

	// Telephony webhook authentication.
	TwilioAccountSid     string
	TwilioAuthToken      string
	ValidateTwilioSig    bool
	GreetingText         string
	GreetingVoice        string
	GreetingLanguage     string

	// Speech API peer.
	RealtimeURL    string
	RealtimeAPIKey string
	RealtimeModel  string
	RealtimeVoice  string
	SystemPrompt   string

	// Server-side voice-activity detection parameters.
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilenceDuration time.Duration

	// Reconnect budget for a realtime connection dropped mid-call.
	MaxRetryCount int

	// Per-call stream tuning.
	MaxCallDuration     time.Duration
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration
	WSHandshakeTimeout  time.Duration
	WSMaxMessageBytes   int64
	OutboundQueueSize   int
	CoalesceDuration    time.Duration
	MaxAudioFPS         int
	MaxAudioBPS         int64
	InboundBurstSeconds int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Optional call-detail-record store (Postgres). Empty disables it.
	DatabaseURL string

	// Optional usage metering. An empty API key disables it; when
	// enabled, meter events attribute minutes to StripeCustomerID.
	StripeAPIKey     string
	StripeMeterName  string
	StripeCustomerID string

	MetricsNamespace string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("CALLBRIDGE_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("CALLBRIDGE_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:             make(map[string]struct{}),
		PublicBaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("CALLBRIDGE_PUBLIC_BASE_URL")), "/"),
		TwilioAccountSid:    strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:     strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		ValidateTwilioSig:   envBoolOr("CALLBRIDGE_VALIDATE_TWILIO_SIGNATURE", true),
		GreetingText:        envOr("CALLBRIDGE_GREETING_TEXT", "Hello, connecting you to an agent now."),
		GreetingVoice:       envOr("CALLBRIDGE_GREETING_VOICE", "Polly.Joanna-Neural"),
		GreetingLanguage:    envOr("CALLBRIDGE_GREETING_LANGUAGE", "en-US"),
		RealtimeURL:         envOr("CALLBRIDGE_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RealtimeModel:       envOr("CALLBRIDGE_REALTIME_MODEL", "gpt-realtime"),
		RealtimeVoice:       envOr("CALLBRIDGE_REALTIME_VOICE", "alloy"),
		SystemPrompt:        envOr("CALLBRIDGE_SYSTEM_PROMPT", "You are a polite phone agent. Keep answers short and speakable."),
		VADThreshold:        envFloat64Or("CALLBRIDGE_VAD_THRESHOLD", 0.5),
		VADPrefixPadding:    envDurationOr("CALLBRIDGE_VAD_PREFIX_PADDING_MS", 300*time.Millisecond),
		VADSilenceDuration:  envDurationOr("CALLBRIDGE_VAD_SILENCE_MS", 700*time.Millisecond),
		MaxRetryCount:       envIntOr("MAX_RETRY_COUNT", 3),
		MaxCallDuration:     envDurationOr("CALLBRIDGE_MAX_CALL_DURATION", 1*time.Hour),
		WSPingInterval:      envDurationOr("CALLBRIDGE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("CALLBRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSHandshakeTimeout:  envDurationOr("CALLBRIDGE_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		WSMaxMessageBytes:   envInt64Or("CALLBRIDGE_WS_MAX_MESSAGE_BYTES", 64*1024),
		OutboundQueueSize:   envIntOr("CALLBRIDGE_OUTBOUND_QUEUE_SIZE", 16),
		CoalesceDuration:    envDurationOr("CALLBRIDGE_COALESCE_MS", 150*time.Millisecond),
		MaxAudioFPS:         envIntOr("CALLBRIDGE_MAX_AUDIO_FPS", 120),
		MaxAudioBPS:         envInt64Or("CALLBRIDGE_MAX_AUDIO_BPS", 64*1024),
		InboundBurstSeconds: envIntOr("CALLBRIDGE_INBOUND_BURST_SECONDS", 2),
		ReadHeaderTimeout:   envDurationOr("CALLBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("CALLBRIDGE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("CALLBRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeMeterName:     envOr("CALLBRIDGE_STRIPE_METER_NAME", "callbridge_call_minutes"),
		StripeCustomerID:    strings.TrimSpace(os.Getenv("CALLBRIDGE_STRIPE_CUSTOMER_ID")),
		MetricsNamespace:    envOr("CALLBRIDGE_METRICS_NAMESPACE", "callbridge"),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("CALLBRIDGE_AUTH_MODE must be one of required|optional|disabled")
	}
	for _, key := range splitCSV(os.Getenv("CALLBRIDGE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_API_KEYS must be set when CALLBRIDGE_AUTH_MODE=required")
	}

	if cfg.RealtimeAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		return Config{}, fmt.Errorf("CALLBRIDGE_REALTIME_URL must not be empty")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("CALLBRIDGE_REALTIME_MODEL must not be empty")
	}
	if cfg.ValidateTwilioSig && cfg.TwilioAuthToken == "" {
		return Config{}, fmt.Errorf("TWILIO_AUTH_TOKEN must be set when CALLBRIDGE_VALIDATE_TWILIO_SIGNATURE=true")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("CALLBRIDGE_VAD_THRESHOLD must be in [0,1]")
	}
	if cfg.VADPrefixPadding < 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_VAD_PREFIX_PADDING_MS must be >= 0")
	}
	if cfg.VADSilenceDuration <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_VAD_SILENCE_MS must be > 0")
	}
	if cfg.MaxRetryCount < 0 {
		return Config{}, fmt.Errorf("MAX_RETRY_COUNT must be >= 0")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_MAX_CALL_DURATION must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.CoalesceDuration <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_COALESCE_MS must be > 0")
	}
	if cfg.MaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.MaxAudioBPS < 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_MAX_AUDIO_BPS must be >= 0")
	}
	if (cfg.MaxAudioFPS > 0 || cfg.MaxAudioBPS > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("CALLBRIDGE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_READ_HEADER_TIMEOUT and CALLBRIDGE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.StripeAPIKey != "" && cfg.StripeCustomerID == "" {
		return Config{}, fmt.Errorf("CALLBRIDGE_STRIPE_CUSTOMER_ID must be set when STRIPE_API_KEY is set")
	}

	return cfg, nil
}

// StreamURL returns the wss:// URL the telephony provider should
// connect its media stream to.
func (c Config) StreamURL() string {
	base := c.PublicBaseURL
	if base == "" {
		return ""
	}
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/twilio/stream"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envDurationOr accepts Go duration strings; a bare integer is read as
// milliseconds, matching the *_MS environment variable names.
func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
