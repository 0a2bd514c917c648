// Package config resolves service settings from the environment, an optional
// YAML file and command line flags, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ortelius/advisory-index/util"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// Source kinds.
const (
	SourceDir    = "dir"
	SourceArango = "arangodb"
)

// Config holds everything needed to run the advisory service.
type Config struct {
	Source          string        `yaml:"source"`
	AdvisoriesDir   string        `yaml:"advisories_dir"`
	Port            string        `yaml:"port"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogLevel        string        `yaml:"log_level"`
	Arango          Arango        `yaml:"arango"`
}

// Arango holds the ArangoDB connection settings used by the arangodb source.
type Arango struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"-"`
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// Endpoint is the URL to dial, built from host and port unless URL is set.
func (a Arango) Endpoint() string {
	if util.IsNotEmpty(a.URL) {
		return a.URL
	}
	return "http://" + a.Host + ":" + a.Port
}

// FromEnv builds the default configuration from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Source:        util.GetEnvDefault("ADVISORY_SOURCE", SourceDir),
		AdvisoriesDir: util.GetEnvDefault("ADVISORIES_DIR", "advisories"),
		Port:          util.GetEnvDefault("MS_PORT", "8080"),
		LogLevel:      util.GetEnvDefault("LOG_LEVEL", "info"),
		Arango: Arango{
			Host:     util.GetEnvDefault("ARANGO_HOST", "localhost"),
			Port:     util.GetEnvDefault("ARANGO_PORT", "8529"),
			User:     util.GetEnvDefault("ARANGO_USER", "root"),
			Pass:     util.GetEnvDefault("ARANGO_PASS", ""),
			URL:      util.GetEnvDefault("ARANGO_URL", ""),
			Database: util.GetEnvDefault("ARANGO_DATABASE", "advisories"),
		},
	}

	if raw := util.GetEnvDefault("REFRESH_INTERVAL", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("REFRESH_INTERVAL: %w", err)
		}
		cfg.RefreshInterval = d
	}
	return cfg, nil
}

// Load reads the environment defaults and overlays the YAML file at path.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// MergeFlags overlays flags the user set explicitly.
func MergeFlags(cfg *Config, flags *pflag.FlagSet) *Config {
	if v, err := flags.GetString("source"); err == nil && flags.Changed("source") {
		cfg.Source = v
	}
	if v, err := flags.GetString("dir"); err == nil && flags.Changed("dir") {
		cfg.AdvisoriesDir = v
	}
	if v, err := flags.GetString("port"); err == nil && flags.Changed("port") {
		cfg.Port = v
	}
	if v, err := flags.GetDuration("refresh"); err == nil && flags.Changed("refresh") {
		cfg.RefreshInterval = v
	}
	if v, err := flags.GetString("log-level"); err == nil && flags.Changed("log-level") {
		cfg.LogLevel = v
	}
	if v, err := flags.GetString("arango-url"); err == nil && flags.Changed("arango-url") {
		cfg.Arango.URL = v
	}
	return cfg
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceDir:
		if util.IsEmpty(c.AdvisoriesDir) {
			return fmt.Errorf("source %q needs an advisories directory", c.Source)
		}
	case SourceArango:
	default:
		return fmt.Errorf("unknown advisory source %q (want %s or %s)", c.Source, SourceDir, SourceArango)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must not be negative, got %s", c.RefreshInterval)
	}
	return nil
}
