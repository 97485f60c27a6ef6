package interviewkit

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string        `mapstructure:"environment"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
	Session     SessionConfig `mapstructure:"session"`
	Backend     BackendConfig `mapstructure:"backend"`
	Voice       VoiceConfig   `mapstructure:"voice"`
	Privacy     PrivacyConfig `mapstructure:"privacy"`
}

type SessionConfig struct {
	DedupWindowMS          int `mapstructure:"dedup_window_ms"`
	PollIntervalMS         int `mapstructure:"poll_interval_ms"`
	TextOnlyPollIntervalMS int `mapstructure:"text_only_poll_interval_ms"`
	RequestTimeoutMS       int `mapstructure:"request_timeout_ms"`
}

type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	Retries        int    `mapstructure:"retries"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms"`
}

type VoiceConfig struct {
	Provider            string         `mapstructure:"provider"`
	Settings            map[string]any `mapstructure:"settings"`
	ConnectTimeoutMS    int            `mapstructure:"connect_timeout_ms"`
	TokenRetries        int            `mapstructure:"token_retries"`
	TokenRetryBackoffMS int            `mapstructure:"token_retry_backoff_ms"`
	BreakerThreshold    int            `mapstructure:"breaker_threshold"`
	BreakerCooldownMS   int            `mapstructure:"breaker_cooldown_ms"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("session.dedup_window_ms", 5000)
	v.SetDefault("session.poll_interval_ms", 10000)
	v.SetDefault("session.text_only_poll_interval_ms", 10000)
	v.SetDefault("session.request_timeout_ms", 20000)
	v.SetDefault("backend.timeout_ms", 20000)
	v.SetDefault("backend.retries", 2)
	v.SetDefault("backend.retry_backoff_ms", 250)
	v.SetDefault("voice.provider", "room")
	v.SetDefault("voice.connect_timeout_ms", 20000)
	v.SetDefault("voice.token_retries", 2)
	v.SetDefault("voice.token_retry_backoff_ms", 300)
	v.SetDefault("voice.breaker_threshold", 3)
	v.SetDefault("voice.breaker_cooldown_ms", 30000)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if strings.TrimSpace(c.Voice.Provider) == "" {
		return fmt.Errorf("voice.provider is required")
	}
	if c.Session.DedupWindowMS < 0 {
		return fmt.Errorf("session.dedup_window_ms must not be negative")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Voice.Settings = expandSettings(cfg.Voice.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
