// Package config assembles the application configuration from defaults, an
// optional YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/picsum-client/pkg/client"
	"github.com/Sternrassler/picsum-client/pkg/logging"
	"github.com/Sternrassler/picsum-client/pkg/pagination"
	"github.com/Sternrassler/picsum-client/pkg/worker"
)

// Config is the application configuration.
type Config struct {
	BaseURL         string        `yaml:"base_url"`
	UserAgent       string        `yaml:"user_agent"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	Workers         int           `yaml:"workers"`
	PageConcurrency int           `yaml:"page_concurrency"`
	PageTimeout     time.Duration `yaml:"page_timeout"`
	JoinTimeout     time.Duration `yaml:"join_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	OutputDir       string        `yaml:"output_dir"`
	RedisURL        string        `yaml:"redis_url"`
	LogLevel        string        `yaml:"log_level"`
	LogPretty       bool          `yaml:"log_pretty"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	pool := worker.DefaultConfig()
	pages := pagination.DefaultConfig()
	return Config{
		BaseURL:         client.DefaultBaseURL,
		UserAgent:       client.DefaultUserAgent,
		RequestTimeout:  client.DefaultConfig().Timeout,
		Workers:         pool.Workers,
		PageConcurrency: pages.MaxConcurrency,
		PageTimeout:     pages.PageTimeout,
		JoinTimeout:     pages.JoinTimeout,
		DownloadTimeout: pool.JobTimeout,
		OutputDir:       "exports",
		LogLevel:        string(logging.LevelInfo),
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = n
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", key, v)
		}
		*dst = d
		return nil
	}

	str("PICSUM_BASE_URL", &c.BaseURL)
	str("PICSUM_USER_AGENT", &c.UserAgent)
	str("PICSUM_OUTPUT_DIR", &c.OutputDir)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)

	if v, ok := lookup("LOG_PRETTY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: invalid boolean %q", v)
		}
		c.LogPretty = b
	}

	for key, dst := range map[string]*int{
		"PICSUM_WORKERS":          &c.Workers,
		"PICSUM_PAGE_CONCURRENCY": &c.PageConcurrency,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}

	for key, dst := range map[string]*time.Duration{
		"PICSUM_REQUEST_TIMEOUT":  &c.RequestTimeout,
		"PICSUM_PAGE_TIMEOUT":     &c.PageTimeout,
		"PICSUM_JOIN_TIMEOUT":     &c.JoinTimeout,
		"PICSUM_DOWNLOAD_TIMEOUT": &c.DownloadTimeout,
	} {
		if err := duration(key, dst); err != nil {
			return err
		}
	}

	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base url is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0 (got %d)", c.Workers)
	}
	if c.PageConcurrency <= 0 {
		return fmt.Errorf("page concurrency must be > 0 (got %d)", c.PageConcurrency)
	}
	for name, d := range map[string]time.Duration{
		"request timeout":  c.RequestTimeout,
		"page timeout":     c.PageTimeout,
		"join timeout":     c.JoinTimeout,
		"download timeout": c.DownloadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0 (got %s)", name, d)
		}
	}
	return nil
}

// Client returns the catalog client configuration.
func (c Config) Client() client.Config {
	return client.Config{
		BaseURL:   c.BaseURL,
		UserAgent: c.UserAgent,
		Timeout:   c.RequestTimeout,
	}
}

// Pool returns the download pool configuration.
func (c Config) Pool() worker.Config {
	return worker.Config{
		Workers:    c.Workers,
		JobTimeout: c.DownloadTimeout,
	}
}

// Pagination returns the listing coordinator configuration.
func (c Config) Pagination() pagination.Config {
	return pagination.Config{
		PageSize:       pagination.MaxPageSize,
		MaxConcurrency: c.PageConcurrency,
		PageTimeout:    c.PageTimeout,
		JoinTimeout:    c.JoinTimeout,
	}
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}
