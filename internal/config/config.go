// Package config loads client settings from DETA_* environment variables and
// an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every key when reading the environment.
	EnvPrefix = "DETA"
	// EnvConfigFile names an optional yaml/json/toml file read before the environment.
	EnvConfigFile = "DETA_CONFIG"

	ModeAuto = "auto"
	ModeHTTP = "http"
	ModeMock = "mock"

	DefaultBaseURL  = "https://database.deta.sh/v1/"
	DefaultDriveURL = "https://drive.deta.sh/v1/"
)

// Config holds the resolved client settings.
type Config struct {
	ProjectKey      string        `mapstructure:"project_key"`
	RuntimeMode     string        `mapstructure:"runtime_mode"`
	BaseURL         string        `mapstructure:"base_url"`
	DriveURL        string        `mapstructure:"drive_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	PartConcurrency int           `mapstructure:"part_concurrency"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	MockBaseSeed    string        `mapstructure:"mock_base_seed"`
	MockDriveSeed   string        `mapstructure:"mock_drive_seed"`
	MockPageSize    int           `mapstructure:"mock_page_size"`
}

var defaults = map[string]any{
	"project_key":      "",
	"runtime_mode":     ModeAuto,
	"base_url":         DefaultBaseURL,
	"drive_url":        DefaultDriveURL,
	"timeout":          30 * time.Second,
	"max_retries":      0,
	"part_concurrency": 8,
	"rate_limit":       0.0,
	"rate_burst":       1,
	"log_level":        "INFO",
	"log_format":       "text",
	"mock_base_seed":   "",
	"mock_drive_seed":  "",
	"mock_page_size":   1000,
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	cfg, _ := decode(newViper())
	return cfg
}

// Load reads the file named by DETA_CONFIG (if any), then DETA_* variables,
// which take precedence.
func Load() (Config, error) {
	v := newViper()

	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.RuntimeMode {
	case ModeAuto, ModeHTTP, ModeMock:
	default:
		return fmt.Errorf("config: unsupported runtime_mode %q", c.RuntimeMode)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.PartConcurrency < 1 {
		return fmt.Errorf("config: part_concurrency must be at least 1, got %d", c.PartConcurrency)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must not be negative, got %v", c.RateLimit)
	}
	return nil
}

// ProjectID returns the project id encoded as the project key prefix.
func (c Config) ProjectID() string {
	id, _, _ := strings.Cut(c.ProjectKey, "_")
	return id
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.RuntimeMode = strings.ToLower(strings.TrimSpace(cfg.RuntimeMode))
	if cfg.RuntimeMode == "" {
		cfg.RuntimeMode = ModeAuto
	}
	cfg.ProjectKey = strings.TrimSpace(cfg.ProjectKey)
	return cfg, nil
}
