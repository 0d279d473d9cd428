package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/opendir/internal/config"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/storage"
)

func TestSetVersionInfo(t *testing.T) {
	version := "1.2.3"
	buildTime := "2023-12-01T10:00:00Z"

	SetVersionInfo(version, buildTime)

	expected := "1.2.3 (built 2023-12-01T10:00:00Z)"
	if rootCmd.Version != expected {
		t.Errorf("Expected version %s, got %s", expected, rootCmd.Version)
	}
	if got := generateUserAgent(); got != "opendir/1.2.3" {
		t.Errorf("Expected user agent opendir/1.2.3, got %s", got)
	}

	SetVersionInfo("dev", "unknown")
	if got := generateUserAgent(); got != "opendir/dev" {
		t.Errorf("Expected user agent opendir/dev, got %s", got)
	}
}

func TestInitConfig(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "opendir.yml")

	configContent := `
workers: 5
request_timeout: 20s
user_agent: "TestAgent/1.0"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfgFile = configFile
	defer func() {
		cfgFile = ""
		viper.Reset()
	}()

	initConfig()

	if viper.ConfigFileUsed() != configFile {
		t.Errorf("Expected config file %s, got %s", configFile, viper.ConfigFileUsed())
	}
	if got := viper.GetInt("workers"); got != 5 {
		t.Errorf("Expected workers 5, got %d", got)
	}
}

func TestRootCmd(t *testing.T) {
	if rootCmd.Use != "opendir [URL]" {
		t.Errorf("Expected use 'opendir [URL]', got %s", rootCmd.Use)
	}
	if rootCmd.RunE == nil {
		t.Error("RunE should be set to runCrawler")
	}

	found := false
	for _, sub := range rootCmd.Commands() {
		if sub.Name() == "report" {
			found = true
		}
	}
	if !found {
		t.Error("report subcommand should be registered")
	}

	for _, name := range []string{"workers", "exact-sizes", "fast-scan", "output", "database", "respect-robots"} {
		if rootCmd.Flags().Lookup(name) == nil {
			t.Errorf("flag %s should be defined", name)
		}
	}
}

func TestOutputBase(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.CrawlConfig
		want string
	}{
		{"explicit", config.CrawlConfig{OutputPath: "out/index.json", SeedURL: "http://h/"}, "out/index"},
		{"host only", config.CrawlConfig{SeedURL: "http://files.example.com/"}, "files.example.com"},
		{"with path", config.CrawlConfig{SeedURL: "https://files.example.com/pub/linux/"}, "files.example.com_pub_linux"},
		{"escaped", config.CrawlConfig{SeedURL: "http://h:8080/My%20Files/"}, "h_8080_My_Files"},
		{"unparseable", config.CrawlConfig{SeedURL: "::"}, "opendir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			assert.Equal(t, tt.want, outputBase(&cfg))
		})
	}
}

func TestShowCurrentConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SeedURL = "http://example.com/pub/"

	var buf bytes.Buffer
	require.NoError(t, showCurrentConfig(&buf, cfg))

	out := buf.String()
	assert.Contains(t, out, "# Current opendir Configuration")
	assert.Contains(t, out, "seed_url: http://example.com/pub/")
	assert.Contains(t, out, "OD_ prefix")

	assert.Error(t, showCurrentConfig(&buf, nil))
}

const (
	rootListing = `<html><head><title>Index of /pub/</title></head><body><pre>
<a href="../">../</a>
<a href="sub/">sub/</a>          12-Jan-2024 10:00       -
<a href="a.txt">a.txt</a>        12-Jan-2024 10:00     100
</pre></body></html>`
	subListing = `<html><head><title>Index of /pub/sub/</title></head><body><pre>
<a href="../">../</a>
<a href="big.iso">big.iso</a>    12-Jan-2024 10:00       -
</pre></body></html>`
)

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pub/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(rootListing))
		case "/pub/sub/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(subListing))
		case "/pub/sub/big.iso":
			w.Header().Set("Content-Length", "2048")
			if r.Method != http.MethodHead {
				_, _ = w.Write(make([]byte, 2048))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCrawlWritesOutputs(t *testing.T) {
	srv := listingServer(t)
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SeedURL = srv.URL + "/pub/"
	cfg.RequestTimeout = 5 * time.Second
	cfg.OutputPath = filepath.Join(dir, "index")
	cfg.DatabasePath = filepath.Join(dir, "index.db")
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	require.NoError(t, crawl(context.Background(), cfg, &out))

	assert.Contains(t, out.String(), "Files:         2")
	assert.Contains(t, out.String(), "2,148 bytes")

	sess, err := session.Load(cfg.OutputPath + ".json")
	require.NoError(t, err)
	totals := sess.Tree.Totals()
	assert.Equal(t, 1, totals.Directories)
	assert.Equal(t, 2, totals.Files)
	assert.Equal(t, int64(2148), totals.Size)
	assert.Zero(t, totals.UnknownSizes)

	urls, err := os.ReadFile(cfg.OutputPath + ".txt")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/pub/a.txt",
		srv.URL + "/pub/sub/big.iso",
	}, strings.Fields(string(urls)))

	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	require.NoError(t, err)
	defer store.Close()
	dirs, files, err := store.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, dirs)
	assert.Equal(t, 2, files)
}

func TestCrawlFastScanLeavesSizesUnknown(t *testing.T) {
	srv := listingServer(t)

	cfg := config.DefaultConfig()
	cfg.SeedURL = srv.URL + "/pub/"
	cfg.RequestTimeout = 5 * time.Second
	cfg.FastScan = true
	cfg.OutputPath = filepath.Join(t.TempDir(), "fast")

	var out bytes.Buffer
	require.NoError(t, crawl(context.Background(), cfg, &out))
	assert.Contains(t, out.String(), "Unknown sizes: 1")
}

func TestReportCommand(t *testing.T) {
	srv := listingServer(t)
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SeedURL = srv.URL + "/pub/"
	cfg.RequestTimeout = 5 * time.Second
	cfg.OutputPath = filepath.Join(dir, "index")
	require.NoError(t, crawl(context.Background(), cfg, &bytes.Buffer{}))

	urlsPath := filepath.Join(dir, "rewritten.txt")
	require.NoError(t, reportCmd.Flags().Set("urls", urlsPath))
	defer func() { _ = reportCmd.Flags().Set("urls", "") }()

	var out bytes.Buffer
	reportCmd.SetOut(&out)
	defer reportCmd.SetOut(nil)

	require.NoError(t, runReport(reportCmd, []string{cfg.OutputPath + ".json"}))
	assert.Contains(t, out.String(), "Root:          "+cfg.SeedURL)

	data, err := os.ReadFile(urlsPath)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(string(data)), 2)
}

func TestReportCommandMissingFile(t *testing.T) {
	err := runReport(reportCmd, []string{filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}
