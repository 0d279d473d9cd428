// Package config provides configuration management for the indexer.
// It defines configuration structures and default values for crawling parameters.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// Credentials holds a username/password pair. The *_env fields name
// environment variables that take precedence over the literal values.
type Credentials struct {
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	UsernameEnv string `mapstructure:"username_env" yaml:"username_env"`
	PasswordEnv string `mapstructure:"password_env" yaml:"password_env"`
}

// Resolve returns the effective username and password.
func (c *Credentials) Resolve() (username, password string) {
	if c == nil {
		return "", ""
	}

	username = c.Username
	if c.UsernameEnv != "" {
		username = os.Getenv(c.UsernameEnv)
	}

	password = c.Password
	if c.PasswordEnv != "" {
		password = os.Getenv(c.PasswordEnv)
	}

	return username, password
}

// CrawlConfig holds crawler configuration
type CrawlConfig struct {
	// Basic crawling parameters
	SeedURL        string        `mapstructure:"seed_url" yaml:"seed_url"`               // Root of the open directory
	Workers        int           `mapstructure:"workers" yaml:"workers"`                 // Directory workers (0 = backend default)
	SizeWorkers    int           `mapstructure:"size_workers" yaml:"size_workers"`       // File-size workers (0 = backend default)
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP request timeout
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header
	RespectRobots  bool          `mapstructure:"respect_robots" yaml:"respect_robots"`   // Whether to honour robots.txt
	Headers        []string      `mapstructure:"headers" yaml:"headers"`                 // Extra "Name: Value" request headers

	// Retry and rate limiting
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`   // Attempts per directory fetch
	RetryCap    time.Duration `mapstructure:"retry_cap" yaml:"retry_cap"`       // Upper bound of a single backoff delay
	HTTPRate    float64       `mapstructure:"http_rate" yaml:"http_rate"`       // Requests per second per host (0 = unlimited)
	CatalogRate float64       `mapstructure:"catalog_rate" yaml:"catalog_rate"` // Requests per second against catalog servers

	// Size resolution
	ExactSizes bool `mapstructure:"exact_sizes" yaml:"exact_sizes"` // Probe every file with a ranged request
	FastScan   bool `mapstructure:"fast_scan" yaml:"fast_scan"`     // Skip size resolution entirely

	// Authentication
	HTTPAuth      *Credentials  `mapstructure:"http_auth" yaml:"http_auth"`           // Basic auth for HTTP listings
	FTP           *Credentials  `mapstructure:"ftp" yaml:"ftp"`                       // FTP login (anonymous when empty)
	FTPTimeout    time.Duration `mapstructure:"ftp_timeout" yaml:"ftp_timeout"`       // FTP session timeout
	DrivePassword string        `mapstructure:"drive_password" yaml:"drive_password"` // Password for drive-index sites

	// URL filtering
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"` // Regex patterns for directories to include
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"` // Regex patterns for directories to exclude

	// Output
	OutputPath     string        `mapstructure:"output" yaml:"output"`                   // Base path for .json and .txt outputs
	DatabasePath   string        `mapstructure:"database_path" yaml:"database_path"`     // Optional SQLite export
	ReportInterval time.Duration `mapstructure:"report_interval" yaml:"report_interval"` // Progress log cadence

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		RequestTimeout: 100 * time.Second,
		UserAgent:      "opendir/1.0",
		MaxRetries:     4,
		RetryCap:       30 * time.Second,
		CatalogRate:    1,
		FTPTimeout:     5 * time.Minute,
		ReportInterval: 30 * time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Validate checks if the configuration is valid
func (c *CrawlConfig) Validate() error {
	if c.SeedURL == "" {
		return ErrNoSeedURL
	}

	u, err := url.Parse(c.SeedURL)
	if err != nil {
		return fmt.Errorf("invalid root URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp", "ftps":
	default:
		return ErrUnsupportedScheme
	}
	if u.Host == "" {
		return fmt.Errorf("root URL %q has no host", c.SeedURL)
	}

	if c.Workers < 0 || c.SizeWorkers < 0 {
		return ErrInvalidWorkers
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxRetries < 1 {
		return ErrInvalidRetries
	}

	if c.HTTPRate < 0 || c.CatalogRate < 0 {
		return ErrInvalidRate
	}

	if c.FastScan && c.ExactSizes {
		return ErrConflictingSizeModes
	}

	for _, pattern := range append(append([]string{}, c.IncludePatterns...), c.ExcludePatterns...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid URL pattern %q: %w", pattern, err)
		}
	}

	if c.ReportInterval <= 0 {
		c.ReportInterval = 30 * time.Second
	}

	return nil
}

// HeaderMap parses the "Name: Value" header list, skipping malformed entries.
func (c *CrawlConfig) HeaderMap() map[string]string {
	headers := make(map[string]string, len(c.Headers))
	for _, header := range c.Headers {
		name, value, ok := strings.Cut(header, ":")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		headers[name] = value
	}
	return headers
}

// LoadHeadersFromEnv appends headers given as OD_HEADER_<NAME>=value, with
// underscores in NAME turned into dashes.
func (c *CrawlConfig) LoadHeadersFromEnv() {
	const prefix = "OD_HEADER_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || value == "" {
			continue
		}
		name := strings.ReplaceAll(strings.TrimPrefix(key, prefix), "_", "-")
		c.Headers = append(c.Headers, name+": "+value)
	}
}
