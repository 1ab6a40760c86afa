package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Stream      StreamConfig      `yaml:"stream"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	History     HistoryConfig     `yaml:"history"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Preview     PreviewConfig     `yaml:"preview"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Includes    []string          `yaml:"includes,omitempty"`
}

// APIConfig holds settings for the project backend REST API.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is an optional static bearer token. When set it takes precedence
	// over the credential store. May be "enc:"-prefixed.
	Token          string               `yaml:"token,omitempty"`
	DefaultProject string               `yaml:"default_project,omitempty"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	RateLimit      float64              `yaml:"rate_limit"` // requests/second, 0 = unlimited
	RateBurst      int                  `yaml:"rate_burst"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for backend calls.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// StreamConfig holds chat stream transport settings.
type StreamConfig struct {
	Path         string `yaml:"path"`
	MaxLineBytes int    `yaml:"max_line_bytes"`
	// RequireSentinel makes a stream that closes without "data: [DONE]"
	// (or a record with "done": true) fail instead of completing.
	RequireSentinel bool `yaml:"require_sentinel"`
}

// WorkspaceConfig holds local workspace settings.
type WorkspaceConfig struct {
	MirrorDir string `yaml:"mirror_dir"` // empty = in-memory only
	Watch     bool   `yaml:"watch"`
}

// HistoryConfig holds the local turn history cache settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
	Limit   int    `yaml:"limit"`
}

// CredentialsConfig holds where the login token is kept.
// The file is encrypted when COMPANION_CONFIG_KEY is set.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// PreviewConfig holds the local preview bridge settings.
type PreviewConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins,omitempty"`
	MaxErrors       int           `yaml:"max_errors"`
	ConsoleDebounce time.Duration `yaml:"console_debounce"`
	RateLimit       float64       `yaml:"rate_limit"` // frames/second per connection
	RateBurst       int           `yaml:"rate_burst"`
	RequestLimit    float64       `yaml:"request_limit"` // HTTP requests/second per client
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultDataDir returns $HOME/.companion, or "./.companion" when $HOME
// cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".companion"
	}
	return filepath.Join(home, ".companion")
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		API: APIConfig{
			BaseURL:     "http://localhost:8080",
			ConnTimeout: 10 * time.Second,
			RespTimeout: 60 * time.Second,
			RateLimit:   10,
			RateBurst:   20,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Stream: StreamConfig{
			Path:         "/api/chat/stream",
			MaxLineBytes: 1 << 20,
		},
		Workspace: WorkspaceConfig{},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(dataDir, "history.db"),
			Limit:   50,
		},
		Credentials: CredentialsConfig{
			Path: filepath.Join(dataDir, "credentials"),
		},
		Preview: PreviewConfig{
			Addr:            "127.0.0.1:5174",
			MaxErrors:       100,
			ConsoleDebounce: 500 * time.Millisecond,
			RateLimit:       20,
			RateBurst:       40,
			RequestLimit:    10,
			ProbeTimeout:    15 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = nil
	}

	if data != nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Includes) > 0 {
			if err := processIncludes(cfg, filepath.Dir(absPath), map[string]bool{absPath: true}, 0); err != nil {
				return nil, err
			}
			// The main file wins over anything it includes.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config (second pass): %w", err)
			}
			cfg.Includes = nil
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := Passphrase(); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Passphrase returns the secret passphrase from COMPANION_CONFIG_KEY.
func Passphrase() string {
	return os.Getenv("COMPANION_CONFIG_KEY")
}

// ApplyEnvOverrides maps COMPANION_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("COMPANION_API_BASE_URL", &cfg.API.BaseURL)
	setString("COMPANION_API_TOKEN", &cfg.API.Token)
	setString("COMPANION_PROJECT", &cfg.API.DefaultProject)
	setBool("COMPANION_STREAM_REQUIRE_SENTINEL", &cfg.Stream.RequireSentinel)
	setString("COMPANION_WORKSPACE_MIRROR_DIR", &cfg.Workspace.MirrorDir)
	setBool("COMPANION_WORKSPACE_WATCH", &cfg.Workspace.Watch)
	setBool("COMPANION_HISTORY_ENABLED", &cfg.History.Enabled)
	setString("COMPANION_HISTORY_DB_PATH", &cfg.History.DBPath)
	setString("COMPANION_CREDENTIALS_PATH", &cfg.Credentials.Path)
	setString("COMPANION_PREVIEW_ADDR", &cfg.Preview.Addr)
	if v := os.Getenv("COMPANION_PREVIEW_ALLOWED_ORIGINS"); v != "" {
		cfg.Preview.AllowedOrigins = splitAndTrim(v, ",")
	}
	setString("COMPANION_LOGGER_LEVEL", &cfg.Logger.Level)
	setString("COMPANION_LOGGER_FORMAT", &cfg.Logger.Format)
	setString("COMPANION_LOGGER_OUTPUT", &cfg.Logger.Output)
	setBool("COMPANION_TRACER_ENABLED", &cfg.Tracer.Enabled)
	setString("COMPANION_TRACER_EXPORTER", &cfg.Tracer.Exporter)
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// 0600 and 0644 are fine; group/other write is not.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
