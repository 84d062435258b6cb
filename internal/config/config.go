// Package config layers defaults, an optional YAML file, a .env file and
// the process environment into one Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials means the Amazon email or password is not set.
var ErrMissingCredentials = errors.New("AMAZON_EMAIL and AMAZON_PASSWORD must be set")

// Environment variables read by ApplyEnv.
const (
	EnvEmail      = "AMAZON_EMAIL"
	EnvPassword   = "AMAZON_PASSWORD"
	EnvTOTPSecret = "AMAZON_TOTP_SECRET"
	EnvOutputPath = "HIGHLIGHTS_PATH"
	EnvLogLevel   = "LOG_LEVEL"
	EnvLogFormat  = "LOG_FORMAT"
	EnvChromePath = "CHROME_PATH"
	EnvDatabase   = "KINDLENOTES_DB"
)

// DefaultEnvFile is loaded when present.
const DefaultEnvFile = ".env"

type Config struct {
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Credentials only ever come from the environment.
	Credentials Credentials `yaml:"-"`
}

type Credentials struct {
	Email      string
	Password   string
	TOTPSecret string
}

type ScrapeConfig struct {
	OutputPath  string `yaml:"output_path"`
	SessionPath string `yaml:"session_path"`
	NotebookURL string `yaml:"notebook_url"`
	ChromePath  string `yaml:"chrome_path"`
	Headless    bool   `yaml:"headless"`

	LoginTimeout     time.Duration `yaml:"login_timeout"`
	VerifyTimeout    time.Duration `yaml:"verify_timeout"`
	ManualTimeout    time.Duration `yaml:"manual_timeout"`
	LibraryTimeout   time.Duration `yaml:"library_timeout"`
	BookLoadTimeout  time.Duration `yaml:"book_load_timeout"`
	HighlightTimeout time.Duration `yaml:"highlight_timeout"`
	ActionTimeout    time.Duration `yaml:"action_timeout"`
	PollDelay        time.Duration `yaml:"poll_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	BookInterval     time.Duration `yaml:"book_interval"`
	StableChecks     int           `yaml:"stable_checks"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Scrape: ScrapeConfig{
			OutputPath:       "data/highlights.json",
			SessionPath:      ".auth/session.json",
			NotebookURL:      "https://read.amazon.com/notebook",
			Headless:         true,
			LoginTimeout:     20 * time.Second,
			VerifyTimeout:    15 * time.Second,
			ManualTimeout:    60 * time.Second,
			LibraryTimeout:   10 * time.Minute,
			BookLoadTimeout:  10 * time.Second,
			HighlightTimeout: 5 * time.Minute,
			ActionTimeout:    30 * time.Second,
			PollDelay:        2 * time.Second,
			SettleDelay:      2 * time.Second,
			BookInterval:     time.Second,
			StableChecks:     3,
		},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "kindlenotes.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "pretty",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables. Unset or empty
// variables leave the current value alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Credentials.Email, EnvEmail)
	set(&c.Credentials.Password, EnvPassword)
	set(&c.Credentials.TOTPSecret, EnvTOTPSecret)
	set(&c.Scrape.OutputPath, EnvOutputPath)
	set(&c.Scrape.ChromePath, EnvChromePath)
	set(&c.Logging.Level, EnvLogLevel)
	set(&c.Logging.Format, EnvLogFormat)
	set(&c.Database.Path, EnvDatabase)
}

// FromEnvironment is the full layering used by the CLI: defaults, the
// config file, the .env file, then the process environment.
func FromEnvironment(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFiles(DefaultEnvFile); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ExpandPaths replaces a leading ~ in every file path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Scrape.OutputPath, &c.Scrape.SessionPath, &c.Scrape.ChromePath, &c.Database.Path} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Scrape.OutputPath == "" {
		errs = append(errs, errors.New("scrape.output_path is empty"))
	}
	if c.Scrape.NotebookURL == "" {
		errs = append(errs, errors.New("scrape.notebook_url is empty"))
	}
	if c.Scrape.StableChecks < 1 {
		errs = append(errs, fmt.Errorf("scrape.stable_checks must be at least 1, got %d", c.Scrape.StableChecks))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Logging.Format {
	case "pretty", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be pretty or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// RequireCredentials fails with ErrMissingCredentials unless both email and
// password are set.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.Credentials.Email == "" {
		missing = append(missing, EnvEmail)
	}
	if c.Credentials.Password == "" {
		missing = append(missing, EnvPassword)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w (missing %s)", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
