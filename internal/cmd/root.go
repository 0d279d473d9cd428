// Package cmd provides the command-line interface for opendir.
// It handles command parsing, configuration loading, and crawler execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/opendir/internal/backend"
	"github.com/masahif/opendir/internal/config"
	"github.com/masahif/opendir/internal/crawler"
	"github.com/masahif/opendir/internal/logging"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/storage"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

const defaultUserAgent = "opendir/1.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "opendir [URL]",
	Short: "An open directory indexer",
	Long: `opendir walks an open directory (HTTP index pages, FTP servers,
calibre catalogs and drive-index sites) and records every file it finds.

The result is written as a JSON session, a plain list of file URLs and,
optionally, a SQLite database.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runCrawler,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var reportCmd = &cobra.Command{
	Use:   "report SESSION.json",
	Short: "Print the summary of a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./opendir.yml)")

	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Crawling
	rootCmd.Flags().IntP("workers", "w", 0, "Directory workers (0 = backend default)")
	rootCmd.Flags().Int("size-workers", 0, "File size workers (0 = default)")
	rootCmd.Flags().DurationP("timeout", "t", 100*time.Second, "HTTP request timeout")
	rootCmd.Flags().StringP("user-agent", "u", defaultUserAgent, "HTTP User-Agent header")
	rootCmd.Flags().Bool("respect-robots", false, "Honour robots.txt rules")
	rootCmd.Flags().StringSliceP("header", "H", []string{}, "Custom HTTP headers in 'Name: Value' format (use multiple times for multiple headers)")

	// Retry and rate limiting
	rootCmd.Flags().Int("max-retries", 4, "Attempts per directory fetch")
	rootCmd.Flags().Duration("retry-cap", 30*time.Second, "Upper bound of a single retry delay")
	rootCmd.Flags().Float64("http-rate", 0, "Requests per second per host (0 = unlimited)")
	rootCmd.Flags().Float64("catalog-rate", 1, "Requests per second against catalog servers")

	// Size resolution
	rootCmd.Flags().Bool("exact-sizes", false, "Probe every file for its exact size")
	rootCmd.Flags().Bool("fast-scan", false, "Skip file size resolution")

	// Authentication
	rootCmd.Flags().String("auth-username", "", "Username for HTTP basic authentication")
	rootCmd.Flags().String("auth-password", "", "Password for HTTP basic authentication")
	rootCmd.Flags().String("ftp-username", "", "FTP username (anonymous when empty)")
	rootCmd.Flags().String("ftp-password", "", "FTP password")
	rootCmd.Flags().Duration("ftp-timeout", 5*time.Minute, "FTP session timeout")
	rootCmd.Flags().String("drive-password", "", "Password for drive-index sites")

	// URL filtering
	rootCmd.Flags().StringSlice("include-patterns", []string{}, "Regex patterns for directories to include")
	rootCmd.Flags().StringSlice("exclude-patterns", []string{}, "Regex patterns for directories to exclude")

	// Output
	rootCmd.Flags().StringP("output", "o", "", "Base path for the .json and .txt outputs (default derived from the URL)")
	rootCmd.Flags().StringP("database", "d", "", "Also export the session to this SQLite database")
	rootCmd.Flags().Duration("report-interval", 30*time.Second, "Progress log interval")

	// Logging
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().String("log-format", "json", "Log format: json or text")
	rootCmd.Flags().String("log-file", "", "Also write logs to this file (rotated)")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"workers", "workers"},
		{"size_workers", "size-workers"},
		{"request_timeout", "timeout"},
		{"user_agent", "user-agent"},
		{"respect_robots", "respect-robots"},
		{"headers", "header"},
		{"max_retries", "max-retries"},
		{"retry_cap", "retry-cap"},
		{"http_rate", "http-rate"},
		{"catalog_rate", "catalog-rate"},
		{"exact_sizes", "exact-sizes"},
		{"fast_scan", "fast-scan"},
		{"http_auth.username", "auth-username"},
		{"http_auth.password", "auth-password"},
		{"ftp.username", "ftp-username"},
		{"ftp.password", "ftp-password"},
		{"ftp_timeout", "ftp-timeout"},
		{"drive_password", "drive-password"},
		{"include_patterns", "include-patterns"},
		{"exclude_patterns", "exclude-patterns"},
		{"output", "output"},
		{"database_path", "database"},
		{"report_interval", "report-interval"},
		{"log_level", "log-level"},
		{"log_format", "log-format"},
		{"log_file", "log-file"},
	}

	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.Flags().Lookup(bind.flagName)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}

	reportCmd.Flags().String("urls", "", "Rewrite the URL list to this path")
	reportCmd.Flags().StringP("database", "d", "", "Export the session to this SQLite database")
	rootCmd.AddCommand(reportCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("opendir")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("opendir/%s", version)
	}
	return "opendir/dev"
}

func showCurrentConfig(w io.Writer, cfg *config.CrawlConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current opendir Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./opendir.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: OD_\n\n")

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (OD_ prefix)\n")
	fmt.Fprintf(w, "# 3. Configuration file (opendir.yml)\n")
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}

// loadConfig merges defaults, viper sources and the positional URL.
func loadConfig(cmd *cobra.Command, args []string) (*config.CrawlConfig, error) {
	cfg := config.DefaultConfig()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(args) > 0 {
		cfg.SeedURL = args[0]
	}

	cfg.LoadHeadersFromEnv()

	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == defaultUserAgent {
		cfg.UserAgent = generateUserAgent()
	}
	return cfg, nil
}

func runCrawler(cmd *cobra.Command, args []string) error {
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNoSeedURL) {
			return fmt.Errorf("no URL provided\nUsage: %s", cmd.UseLine())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	closer, err := logging.SetDefault(logging.Config{
		Level:      logging.ParseLevel(cfg.LogLevel),
		Format:     cfg.LogFormat,
		FilePath:   cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 5,
		Console:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return crawl(ctx, cfg, cmd.OutOrStdout())
}

// crawl runs one session and writes its outputs. Outputs are written even
// when the run was interrupted, so a partial index is never lost.
func crawl(ctx context.Context, cfg *config.CrawlConfig, out io.Writer) error {
	base := outputBase(cfg)
	if dir := filepath.Dir(base); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	adapter, err := backend.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}
	if c, ok := adapter.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	sess := session.New(cfg.SeedURL)
	c, err := crawler.New(cfg, adapter, sess)
	if err != nil {
		return fmt.Errorf("failed to initialize crawler: %w", err)
	}

	slog.Info("Starting crawl",
		"url", cfg.SeedURL,
		"backend", adapter.Name(),
		"session_id", sess.ID,
		"output", base)

	runErr := c.Run(ctx)
	sess.Finish()

	if err := writeOutputs(sess, base, cfg.DatabasePath); err != nil {
		return err
	}
	if _, err := sess.Summary().WriteTo(out); err != nil {
		return fmt.Errorf("failed to print summary: %w", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func writeOutputs(sess *session.Session, base, dbPath string) error {
	if err := sess.Save(base + ".json"); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if err := sess.SaveURLList(base + ".txt"); err != nil {
		return fmt.Errorf("failed to save URL list: %w", err)
	}
	slog.Info("Session saved", "json", base+".json", "urls", base+".txt")

	if dbPath != "" {
		if err := exportSQLite(sess, dbPath); err != nil {
			return err
		}
		slog.Info("Session exported", "database", dbPath)
	}
	return nil
}

func exportSQLite(sess *session.Session, dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveSession(sess); err != nil {
		return fmt.Errorf("failed to export session: %w", err)
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// outputBase returns the configured output path or one derived from the
// root URL, e.g. "files.example.com_pub_linux".
func outputBase(cfg *config.CrawlConfig) string {
	if cfg.OutputPath != "" {
		return strings.TrimSuffix(cfg.OutputPath, ".json")
	}

	u, err := url.Parse(cfg.SeedURL)
	if err != nil || u.Host == "" {
		return "opendir"
	}

	name := u.Host
	if p := strings.Trim(u.Path, "/"); p != "" {
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		name += "_" + p
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

func runReport(cmd *cobra.Command, args []string) error {
	sess, err := session.Load(args[0])
	if err != nil {
		return err
	}

	if urls, _ := cmd.Flags().GetString("urls"); urls != "" {
		if err := sess.SaveURLList(urls); err != nil {
			return fmt.Errorf("failed to save URL list: %w", err)
		}
	}
	if dbPath, _ := cmd.Flags().GetString("database"); dbPath != "" {
		if err := exportSQLite(sess, dbPath); err != nil {
			return err
		}
	}

	_, err = sess.Summary().WriteTo(cmd.OutOrStdout())
	return err
}
