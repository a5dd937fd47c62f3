package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Conventional API-key environment variables per provider name, used when
// api_key_env is not set.
var defaultKeyEnv = map[string]string{
	"deepgram":   "DEEPGRAM_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anyllm":     "OPENAI_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
}

// Known provider names per stage. Unknown names only warn, so third-party
// builds can register their own.
var validProviderNames = map[string][]string{
	"stt": {"deepgram", "mock"},
	"llm": {"openai", "anyllm", "mock"},
	"tts": {"elevenlabs", "mock"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.WSBase == "" && cfg.Server.PublicURL != "" {
		cfg.Server.WSBase = "wss://" + strings.TrimPrefix(
			strings.TrimPrefix(cfg.Server.PublicURL, "https://"), "http://")
	}
	if cfg.Telephony.APIKeyEnv == "" {
		cfg.Telephony.APIKeyEnv = "DIALCAST_TELEPHONY_API_KEY"
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Alex"
	}
	if cfg.SIP.ListenAddr == "" {
		cfg.SIP.ListenAddr = ":5060"
	}
	if cfg.SIP.RTPPortMin == 0 {
		cfg.SIP.RTPPortMin = 10000
	}
	if cfg.SIP.RTPPortMax == 0 {
		cfg.SIP.RTPPortMax = 20000
	}
	if cfg.Postgres.DSNEnv == "" {
		cfg.Postgres.DSNEnv = "DIALCAST_POSTGRES_DSN"
	}
	if cfg.Redis.PasswordEnv == "" {
		cfg.Redis.PasswordEnv = "DIALCAST_REDIS_PASSWORD"
	}
	if cfg.Dialer.LeadBatchSize == 0 {
		cfg.Dialer.LeadBatchSize = 1000
	}
	if cfg.Recording.Dir == "" {
		cfg.Recording.Dir = "recordings"
	}
	if cfg.Billing.RatePerSecond == 0 {
		cfg.Billing.RatePerSecond = 0.001
	}
}

// Validate checks that cfg is coherent, returning a joined error listing
// every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Telephony.BaseURL != "" {
		if cfg.Telephony.FromNumber == "" {
			errs = append(errs, errors.New("telephony.from_number is required when telephony.base_url is set"))
		}
		if cfg.Server.PublicURL == "" {
			errs = append(errs, errors.New("server.public_url is required when telephony.base_url is set"))
		}
	}

	if cfg.SIP.Enabled {
		if cfg.SIP.AdvertiseHost == "" {
			errs = append(errs, errors.New("sip.advertise_host is required when sip.enabled"))
		}
		if cfg.SIP.RTPPortMin >= cfg.SIP.RTPPortMax {
			errs = append(errs, fmt.Errorf("sip rtp port range [%d, %d] is empty", cfg.SIP.RTPPortMin, cfg.SIP.RTPPortMax))
		}
	}

	warnUnknownProvider("stt", cfg.Providers.STT.Name)
	warnUnknownProvider("llm", cfg.Providers.LLM.Name)
	warnUnknownProvider("tts", cfg.Providers.TTS.Name)
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
	}

	if cfg.Dialer.PollInterval < 0 || cfg.Dialer.SweepInterval < 0 ||
		cfg.Dialer.DeferDelay < 0 || cfg.Dialer.RetryBackoffCap < 0 {
		errs = append(errs, errors.New("dialer intervals must not be negative"))
	}
	if cfg.Dialer.MaxConsecutiveErrors < 0 {
		errs = append(errs, errors.New("dialer.max_consecutive_errors must not be negative"))
	}
	if cfg.Dialer.LeadBatchSize < 0 {
		errs = append(errs, errors.New("dialer.lead_batch_size must not be negative"))
	}

	if cfg.Pipeline.MaxConversationTurns < 0 || cfg.Pipeline.MaxObjectionAttempts < 0 {
		errs = append(errs, errors.New("pipeline caps must not be negative"))
	}

	if cfg.Billing.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("billing.rate_per_second %v must not be negative", cfg.Billing.RatePerSecond))
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(stage, name string) {
	if name == "" {
		return
	}
	known := validProviderNames[stage]
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo",
		"stage", stage, "name", name, "known", known)
}

// ResolveKey reads the provider's API key from the environment. The mock
// provider needs no key; everything else must have one.
func (p ProviderEntry) ResolveKey() (string, error) {
	if p.Name == "mock" {
		return "", nil
	}
	envName := p.APIKeyEnv
	if envName == "" {
		envName = defaultKeyEnv[p.Name]
	}
	if envName == "" {
		return "", fmt.Errorf("config: provider %q has no api_key_env and no conventional key variable", p.Name)
	}
	key := os.Getenv(envName)
	if key == "" {
		return "", fmt.Errorf("config: environment variable %s is not set (API key for provider %q)", envName, p.Name)
	}
	return key, nil
}

// ResolveDSN reads the Postgres connection string from the environment.
func (p PostgresConfig) ResolveDSN() (string, error) {
	dsn := os.Getenv(p.DSNEnv)
	if dsn == "" {
		return "", fmt.Errorf("config: environment variable %s is not set (postgres DSN)", p.DSNEnv)
	}
	return dsn, nil
}

// ResolvePassword reads the Redis password from the environment. Empty means
// no auth.
func (r RedisConfig) ResolvePassword() string {
	return os.Getenv(r.PasswordEnv)
}

// ResolveKey reads the telephony bearer token from the environment.
func (t TelephonyConfig) ResolveKey() (string, error) {
	key := os.Getenv(t.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("config: environment variable %s is not set (telephony API key)", t.APIKeyEnv)
	}
	return key, nil
}
