// Package config loads the chatlink configuration file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the top-level chatlink configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Queue       QueueConfig       `yaml:"queue"`
	Session     SessionConfig     `yaml:"session"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	// WSURL is the push endpoint root; scopes are appended as /chat/{channel}/.
	WSURL       string        `yaml:"ws_url" validate:"required,url"`
	APIURL      string        `yaml:"api_url" validate:"required,url"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gte=0"`
}

type ReconnectConfig struct {
	Base        time.Duration `yaml:"base" validate:"gte=0"`
	Max         time.Duration `yaml:"max" validate:"gte=0"`
	Factor      float64       `yaml:"factor" validate:"gte=0"`
	Jitter      float64       `yaml:"jitter" validate:"gte=0,lte=1"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=0"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

type QueueConfig struct {
	Size int `yaml:"size" validate:"gte=0"`
}

type SessionConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	TypingTimeout  time.Duration `yaml:"typing_timeout" validate:"gte=0"`
}

// FallbackConfig tunes REST polling while the push channel is down.
// PollInterval is clamped to [1s, 60s] when applied.
type FallbackConfig struct {
	Threshold     time.Duration `yaml:"threshold" validate:"gte=0"`
	PollInterval  time.Duration `yaml:"poll_interval" validate:"gte=0"`
	PollLimit     int           `yaml:"poll_limit" validate:"gte=0,lte=1000"`
	ResyncLimit   int           `yaml:"resync_limit" validate:"gte=0,lte=1000"`
	ProbeInterval time.Duration `yaml:"probe_interval" validate:"gte=0"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
}

// Credential backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// CredentialsConfig selects where the access credential is read from.
// LegacyPath and the env vars are consulted when the primary store is empty.
type CredentialsConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=file sqlite memory"`
	Path       string `yaml:"path" validate:"required_unless=Backend memory"`
	LegacyPath string `yaml:"legacy_path"`
	AccessEnv  string `yaml:"access_env"`
	RefreshEnv string `yaml:"refresh_env"`
	Watch      bool   `yaml:"watch"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Format is json or text; empty picks text on a terminal and json otherwise.
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no server set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.DialTimeout == 0 {
		cfg.Server.DialTimeout = 10 * time.Second
	}
	if cfg.Reconnect.Base == 0 {
		cfg.Reconnect.Base = time.Second
	}
	if cfg.Reconnect.Max == 0 {
		cfg.Reconnect.Max = 30 * time.Second
	}
	if cfg.Reconnect.Factor == 0 {
		cfg.Reconnect.Factor = 2
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = 10
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = 30 * time.Second
	}
	if cfg.Queue.Size == 0 {
		cfg.Queue.Size = 100
	}
	if cfg.Session.ConnectTimeout == 0 {
		cfg.Session.ConnectTimeout = 5 * time.Second
	}
	if cfg.Session.TypingTimeout == 0 {
		cfg.Session.TypingTimeout = 3 * time.Second
	}
	if cfg.Fallback.Threshold == 0 {
		cfg.Fallback.Threshold = 5 * time.Minute
	}
	if cfg.Fallback.PollInterval == 0 {
		cfg.Fallback.PollInterval = 3 * time.Second
	}
	if cfg.Fallback.PollLimit == 0 {
		cfg.Fallback.PollLimit = 50
	}
	if cfg.Fallback.ResyncLimit == 0 {
		cfg.Fallback.ResyncLimit = 200
	}
	if cfg.Fallback.ProbeInterval == 0 {
		cfg.Fallback.ProbeInterval = 30 * time.Second
	}
	if cfg.Fallback.FetchTimeout == 0 {
		cfg.Fallback.FetchTimeout = 10 * time.Second
	}
	cfg.Credentials.Backend = strings.ToLower(strings.TrimSpace(cfg.Credentials.Backend))
	if cfg.Credentials.Backend == "" {
		cfg.Credentials.Backend = BackendFile
	}
	if cfg.Credentials.Path == "" && cfg.Credentials.Backend != BackendMemory {
		cfg.Credentials.Path = defaultCredentialPath(cfg.Credentials.Backend)
	}
	if cfg.Credentials.AccessEnv == "" {
		cfg.Credentials.AccessEnv = "CHATLINK_ACCESS_TOKEN"
	}
	if cfg.Credentials.RefreshEnv == "" {
		cfg.Credentials.RefreshEnv = "CHATLINK_REFRESH_TOKEN"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "chatlink"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}

func defaultCredentialPath(backend string) string {
	name := "credentials.yaml"
	if backend == BackendSQLite {
		name = "credentials.db"
	}
	return filepath.Join(StateDir(), name)
}

// StateDir is where chatlink keeps local state: $CHATLINK_HOME, or
// ~/.chatlink when unset.
func StateDir() string {
	if dir := strings.TrimSpace(os.Getenv("CHATLINK_HOME")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatlink"
	}
	return filepath.Join(home, ".chatlink")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(StateDir(), "config.yaml")
}
