// Package credentials loads Checkmarx One tenant settings and exchanges the
// API key for a bearer token.
package credentials

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// Name is the configuration file stem and environment prefix.
	Name      = "cx1export"
	envPrefix = "CX1EXPORT"
)

// ErrMissing is returned for required settings that are not set.
var ErrMissing = errors.New("not set")

// Config holds the tenant connection settings.
type Config struct {
	APIURL     string `mapstructure:"api_url"`
	IAMURL     string `mapstructure:"iam_url"`
	APIKey     string `mapstructure:"api_key"`
	TenantName string `mapstructure:"tenant_name"`
}

// ConfigError is a missing or invalid setting or credential. It is fatal
// and never retried.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var keys = []string{"api_url", "iam_url", "api_key", "tenant_name"}

// Load reads the settings from path, or from cx1export.{yaml,yml,toml,json}
// in the working directory or the user config directory when path is empty.
// CX1EXPORT_* environment variables override file values.
func Load(path string) (Config, error) {
	vip := viper.New()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, &ConfigError{Err: fmt.Errorf("invalid configuration file: %w", err)}
		}
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName(Name)
		vip.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			vip.AddConfigPath(filepath.Join(dir, Name))
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, &ConfigError{Err: fmt.Errorf("invalid configuration file: %w", err)}
		}
		slog.Debug("No credentials file, using environment only")
	} else {
		slog.Debug("Using credentials file", slog.String("file", vip.ConfigFileUsed()))
	}

	vip.SetEnvPrefix(envPrefix)
	for _, k := range keys {
		if err := vip.BindEnv(k); err != nil {
			return Config{}, &ConfigError{Field: k, Err: fmt.Errorf("could not bind environment variable: %w", err)}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return Config{}, &ConfigError{Err: err}
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.IAMURL = strings.TrimRight(strings.TrimSpace(cfg.IAMURL), "/")
	cfg.TenantName = strings.TrimSpace(cfg.TenantName)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every setting is present and the URLs are absolute.
func (c Config) Validate() error {
	values := map[string]string{
		"api_url":     c.APIURL,
		"iam_url":     c.IAMURL,
		"api_key":     c.APIKey,
		"tenant_name": c.TenantName,
	}
	for _, k := range keys {
		if values[k] == "" {
			return &ConfigError{Field: k, Err: fmt.Errorf("%w (set it in %s.yaml or %s_%s)", ErrMissing, Name, envPrefix, strings.ToUpper(k))}
		}
	}
	for _, k := range []string{"api_url", "iam_url"} {
		u, err := url.Parse(values[k])
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: k, Err: fmt.Errorf("must be an absolute URL, got %q", values[k])}
		}
	}
	return nil
}
