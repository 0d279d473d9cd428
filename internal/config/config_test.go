package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Workers != 0 {
		t.Errorf("Expected workers 0 (backend default), got %d", cfg.Workers)
	}

	if cfg.RequestTimeout != 100*time.Second {
		t.Errorf("Expected request timeout 100s, got %v", cfg.RequestTimeout)
	}

	if cfg.UserAgent != "opendir/1.0" {
		t.Errorf("Expected user agent 'opendir/1.0', got %s", cfg.UserAgent)
	}

	if cfg.MaxRetries != 4 {
		t.Errorf("Expected max retries 4, got %d", cfg.MaxRetries)
	}

	if cfg.FTPTimeout != 5*time.Minute {
		t.Errorf("Expected FTP timeout 5m, got %v", cfg.FTPTimeout)
	}

	if cfg.RespectRobots {
		t.Errorf("Expected respect robots false, got %v", cfg.RespectRobots)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *CrawlConfig {
		cfg := DefaultConfig()
		cfg.SeedURL = "http://example.com/pub/"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*CrawlConfig)
		wantErr error
	}{
		{name: "valid http", mutate: func(c *CrawlConfig) {}},
		{name: "valid ftp", mutate: func(c *CrawlConfig) { c.SeedURL = "ftp://ftp.example.com/" }},
		{name: "missing url", mutate: func(c *CrawlConfig) { c.SeedURL = "" }, wantErr: ErrNoSeedURL},
		{name: "bad scheme", mutate: func(c *CrawlConfig) { c.SeedURL = "gopher://example.com/" }, wantErr: ErrUnsupportedScheme},
		{name: "negative workers", mutate: func(c *CrawlConfig) { c.Workers = -1 }, wantErr: ErrInvalidWorkers},
		{name: "zero timeout", mutate: func(c *CrawlConfig) { c.RequestTimeout = 0 }, wantErr: ErrInvalidTimeout},
		{name: "zero retries", mutate: func(c *CrawlConfig) { c.MaxRetries = 0 }, wantErr: ErrInvalidRetries},
		{name: "negative rate", mutate: func(c *CrawlConfig) { c.HTTPRate = -2 }, wantErr: ErrInvalidRate},
		{name: "fast and exact", mutate: func(c *CrawlConfig) { c.FastScan, c.ExactSizes = true, true }, wantErr: ErrConflictingSizeModes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsBadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeedURL = "http://example.com/"
	cfg.ExcludePatterns = []string{"("}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestValidateRestoresReportInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeedURL = "http://example.com/"
	cfg.ReportInterval = 0

	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.ReportInterval != 30*time.Second {
		t.Errorf("ReportInterval = %v, want 30s", cfg.ReportInterval)
	}
}

func TestCredentialsResolve(t *testing.T) {
	t.Setenv("OD_TEST_FTP_PASS", "from-env")

	creds := &Credentials{Username: "alice", Password: "literal", PasswordEnv: "OD_TEST_FTP_PASS"}
	user, pass := creds.Resolve()
	if user != "alice" || pass != "from-env" {
		t.Errorf("Resolve() = %q, %q", user, pass)
	}

	var missing *Credentials
	if u, p := missing.Resolve(); u != "" || p != "" {
		t.Errorf("nil Resolve() = %q, %q", u, p)
	}
}

func TestHeaderMap(t *testing.T) {
	cfg := &CrawlConfig{Headers: []string{"X-Token: abc", "bad header", "Empty:", " Accept : text/html "}}
	headers := cfg.HeaderMap()

	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", headers)
	}
	if headers["X-Token"] != "abc" || headers["Accept"] != "text/html" {
		t.Errorf("unexpected headers %v", headers)
	}
}

func TestLoadHeadersFromEnv(t *testing.T) {
	t.Setenv("OD_HEADER_X_API_KEY", "k1")

	cfg := &CrawlConfig{}
	cfg.LoadHeadersFromEnv()

	if cfg.HeaderMap()["X-API-KEY"] != "k1" {
		t.Errorf("expected X-API-KEY header, got %v", cfg.Headers)
	}
}
