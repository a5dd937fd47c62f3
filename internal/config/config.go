// Package config provides the configuration schema and loader for the
// dialcast server.
//
// Secrets never live in the config file: fields ending in Env name the
// environment variable that holds the value, and [ProviderEntry.ResolveKey]
// and friends read it at startup.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration, loaded from YAML with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	SIP       SIPConfig       `yaml:"sip"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Providers ProvidersConfig `yaml:"providers"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Dialer    DialerConfig    `yaml:"dialer"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Agent     AgentConfig     `yaml:"agent"`
	Recording RecordingConfig `yaml:"recording"`
	Billing   BillingConfig   `yaml:"billing"`
}

// ServerConfig holds network and logging settings for the HTTP surface
// (voice WebSocket, webhooks, campaign control, metrics, health).
type ServerConfig struct {
	// ListenAddr is the TCP address to listen on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PublicURL is the externally reachable HTTPS base for the telephony
	// webhooks (e.g., "https://dialer.example.com"). Required when
	// telephony placement is configured.
	PublicURL string `yaml:"public_url"`

	// WSBase is the externally reachable wss:// base for the voice media
	// WebSocket. Defaults to PublicURL with the scheme swapped.
	WSBase string `yaml:"ws_base"`
}

// SIPConfig configures the softphone-facing SIP endpoint.
type SIPConfig struct {
	// Enabled turns the SIP/RTP leg on. The WS gateway runs regardless.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the UDP address for SIP signalling (e.g., ":5060").
	ListenAddr string `yaml:"listen_addr"`

	// AdvertiseHost is the IP written into SDP answers. Required when
	// enabled.
	AdvertiseHost string `yaml:"advertise_host"`

	// RTPPortMin and RTPPortMax bound the per-call RTP port range.
	RTPPortMin int `yaml:"rtp_port_min"`
	RTPPortMax int `yaml:"rtp_port_max"`

	// TenantID and CampaignID tag calls that arrive over SIP, which carry
	// no campaign context of their own.
	TenantID   string `yaml:"tenant_id"`
	CampaignID string `yaml:"campaign_id"`
}

// TelephonyConfig points at the outbound call provider's REST API. When
// BaseURL is empty, call placement only creates the call record and logs;
// media is expected to arrive over SIP or a provider-initiated WebSocket.
type TelephonyConfig struct {
	// BaseURL is the provider's call-creation endpoint.
	BaseURL string `yaml:"base_url"`

	// FromNumber is the caller ID for outbound legs.
	FromNumber string `yaml:"from_number"`

	// APIKeyEnv names the environment variable holding the bearer token.
	// Default: DIALCAST_TELEPHONY_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`
}

// ProvidersConfig selects the STT, LLM, and TTS backends. Each stage may
// list fallbacks, tried in order behind per-backend circuit breakers.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`

	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common block shared by all provider stages.
type ProviderEntry struct {
	// Name selects the implementation (e.g., "deepgram", "openai",
	// "elevenlabs", "anyllm", "mock").
	Name string `yaml:"name"`

	// Model selects a model within the provider (e.g., "gpt-4o-mini",
	// "nova-2").
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// Empty means the provider's conventional variable (see ResolveKey).
	APIKeyEnv string `yaml:"api_key_env"`
}

// PostgresConfig locates the call/campaign database.
type PostgresConfig struct {
	// DSNEnv names the environment variable holding the connection string.
	// Default: DIALCAST_POSTGRES_DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// RedisConfig locates the dialer queue store. When Addr is empty the dialer
// runs on the in-memory store (single node only).
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`

	// PasswordEnv names the environment variable holding the password.
	// Default: DIALCAST_REDIS_PASSWORD. An unset variable means no auth.
	PasswordEnv string `yaml:"password_env"`
}

// DialerConfig tunes the outbound dial loop.
type DialerConfig struct {
	PollInterval         Duration `yaml:"poll_interval"`
	SweepInterval        Duration `yaml:"sweep_interval"`
	DeferDelay           Duration `yaml:"defer_delay"`
	RetryBackoffCap      Duration `yaml:"retry_backoff_cap"`
	MaxConsecutiveErrors int      `yaml:"max_consecutive_errors"`

	// LeadBatchSize caps how many pending leads one campaign start enqueues.
	LeadBatchSize int `yaml:"lead_batch_size"`
}

// PipelineConfig tunes the per-call voice pipeline.
type PipelineConfig struct {
	Language             string   `yaml:"language"`
	IdleTimeout          Duration `yaml:"idle_timeout"`
	TurnTimeout          Duration `yaml:"turn_timeout"`
	MaxConversationTurns int      `yaml:"max_conversation_turns"`
	MaxObjectionAttempts int      `yaml:"max_objection_attempts"`

	// Seed, when non-zero, pins the LLM for reproducible QA runs and
	// forces temperature 0.
	Seed int64 `yaml:"seed"`
}

// AgentConfig is the voice agent's identity, shared by every campaign.
// Campaign rows override the prompt and greeting per campaign.
type AgentConfig struct {
	// Name is how the agent introduces itself.
	Name string `yaml:"name"`

	// Company is the business the agent calls on behalf of.
	Company string `yaml:"company"`

	// Tone steers the prompt's register (e.g., "warm and concise").
	Tone string `yaml:"tone"`

	// MaxSentences caps spoken replies. Zero means the guardrail default.
	MaxSentences int `yaml:"max_sentences"`

	// DoNotSay lists phrases that must never be spoken.
	DoNotSay []string `yaml:"do_not_say"`

	// ComplianceText is appended verbatim to every prompt.
	ComplianceText string `yaml:"compliance_text"`
}

// RecordingConfig locates recording storage.
type RecordingConfig struct {
	// Dir is the local directory recordings are written under.
	Dir string `yaml:"dir"`
}

// BillingConfig prices completed calls.
type BillingConfig struct {
	// RatePerSecond is the cost per connected second. Default 0.001.
	RatePerSecond float64 `yaml:"rate_per_second"`
}
