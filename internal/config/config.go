package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"PeopleChat/internal/session"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

const envPrefix = "PEOPLECHAT"

// providerKeyEnv maps a provider to the conventional variable holding its key
var providerKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderOllama:    "llama3:latest",
	ProviderGemini:    "gemini-1.5-flash",
}

// Config holds application configuration
type Config struct {
	Provider     string  `mapstructure:"provider"`
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	Temperature  float64 `mapstructure:"temperature"`
	AssistantID  string  `mapstructure:"assistant_id"`
	Instructions string  `mapstructure:"instructions"`
	Voice        string  `mapstructure:"voice"`
	SessionID    string  `mapstructure:"session_id"`
	Debug        bool    `mapstructure:"debug"`

	Followups FollowupConfig  `mapstructure:"followups"`
	Samples   SampleConfig    `mapstructure:"samples"`
	Poll      PollConfig      `mapstructure:"poll"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
}

type FollowupConfig struct {
	Count    int `mapstructure:"count"`
	MaxWords int `mapstructure:"max_words"`
}

type SampleConfig struct {
	Count int `mapstructure:"count"`
}

// PollConfig bounds hosted-assistant run polling
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Persist bool `mapstructure:"persist"`
}

type RetryConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"`
}

type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// ErrHelp is returned by Load when -h or --help was requested
var ErrHelp = pflag.ErrHelp

// NewFlagSet declares every command line flag. Flag names match viper keys
// with dots replaced by dashes.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.String("config", "", "path to a config file (yaml, json or toml)")
	fs.StringP("provider", "p", ProviderOpenAI, "LLM provider: openai, anthropic, ollama or gemini")
	fs.String("api-key", "", "provider API key (defaults to the provider's environment variable)")
	fs.String("base-url", "", "override the provider API base URL")
	fs.StringP("model", "m", "", "model name (defaults per provider)")
	fs.Float64P("temperature", "t", 0.7, "sampling temperature in [0,1]")
	fs.StringP("assistant-id", "a", "", "hosted assistant id; routes calls to the assistant backend (openai only)")
	fs.String("instructions", "You are a helpful assistant.", "system instructions sent with every question")
	fs.String("voice", "alloy", "text-to-speech voice")
	fs.String("session-id", "", "resume a stored session by id")
	fs.Bool("debug", false, "enable debug logging")

	fs.Int("followups-count", 3, "number of follow-up questions offered after each answer")
	fs.Int("followups-max-words", 25, "maximum words per follow-up question")
	fs.Int("samples-count", 1, "number of sample prompts generated by /generate")

	fs.Duration("poll-interval", 500*time.Millisecond, "initial assistant run poll interval")
	fs.Duration("poll-max-interval", 5*time.Second, "maximum assistant run poll interval")
	fs.Duration("poll-timeout", 2*time.Minute, "give up on an assistant run after this long")
	fs.Duration("http-timeout", 60*time.Second, "HTTP client timeout for provider requests")

	fs.String("db-path", "peoplechat.db", "sqlite database for transcripts and the persistent cache")
	fs.Bool("cache-enabled", false, "cache stateless chat completions")
	fs.Bool("cache-persist", false, "store cached completions in the database instead of memory")
	fs.Bool("retry-enabled", false, "retry rate limited and failed provider calls")
	fs.Duration("retry-max-elapsed", 30*time.Second, "maximum time spent retrying one call")

	fs.String("log-dir", "logs", "directory for the rotated log, trace and metric files")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.Bool("telemetry-enabled", true, "export traces and metrics to files under log-dir")
	fs.String("server-listen", "", "serve the websocket chat API on this address instead of the REPL")

	return fs
}

// Load parses args, reads the optional config file and environment, and
// returns a validated Config.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("peoplechat")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags builds a Config from already parsed flags
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", ".")
		// keys with an underscore in their last segment
		switch f.Name {
		case "api-key", "base-url", "assistant-id", "session-id":
			key = strings.ReplaceAll(f.Name, "-", "_")
		case "followups-max-words":
			key = "followups.max_words"
		case "poll-max-interval":
			key = "poll.max_interval"
		case "retry-max-elapsed":
			key = "retry.max_elapsed"
		}
		bindErr = errors.Join(bindErr, v.BindPFlag(key, f))
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.APIKey == "" {
		if name, ok := providerKeyEnv[cfg.Provider]; ok {
			cfg.APIKey = os.Getenv(name)
		}
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on settings no component could work with
func (c *Config) Validate() error {
	if _, ok := defaultModels[c.Provider]; !ok {
		return &session.ConfigurationError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", c.Provider)}
	}
	if name, needsKey := providerKeyEnv[c.Provider]; needsKey && c.APIKey == "" {
		return &session.ConfigurationError{Field: "api_key", Reason: fmt.Sprintf("missing credential, set --api-key or %s", name)}
	}
	if c.AssistantID != "" && c.Provider != ProviderOpenAI {
		return &session.ConfigurationError{Field: "assistant_id", Reason: "hosted assistants require the openai provider"}
	}
	if err := c.Settings().Validate(); err != nil {
		return err
	}

	positive := []struct {
		field string
		value int64
	}{
		{"followups.count", int64(c.Followups.Count)},
		{"followups.max_words", int64(c.Followups.MaxWords)},
		{"samples.count", int64(c.Samples.Count)},
		{"poll.interval", int64(c.Poll.Interval)},
		{"poll.max_interval", int64(c.Poll.MaxInterval)},
		{"poll.timeout", int64(c.Poll.Timeout)},
		{"http.timeout", int64(c.HTTP.Timeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &session.ConfigurationError{Field: p.field, Reason: "must be positive"}
		}
	}
	return nil
}

// Settings returns the session settings the configuration starts with
func (c *Config) Settings() session.Settings {
	return session.Settings{
		Model:       c.Model,
		Temperature: c.Temperature,
		AssistantID: c.AssistantID,
	}
}
