// Package config loads deskbridge settings.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// YAML file named by --config (or DESKBRIDGE_CONFIG), DESKBRIDGE_* environment
// variables, and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the upper-cased key name to form the variable name.
const EnvPrefix = "DESKBRIDGE_"

// Config is the full runtime configuration of the api binary.
type Config struct {
	Addr          string `yaml:"addr"`
	PublicBaseURL string `yaml:"public_base_url"`

	SlackSigningSecret string `yaml:"slack_signing_secret"`
	SlackBotToken      string `yaml:"slack_bot_token"`
	SlackClientID      string `yaml:"slack_client_id"`
	SlackClientSecret  string `yaml:"slack_client_secret"`
	// SlackAPIURL overrides https://slack.com/api/, mainly for tests.
	SlackAPIURL string `yaml:"slack_api_url"`

	// DatabaseDSN selects Postgres. Empty keeps everything in memory.
	DatabaseDSN string `yaml:"database_dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`

	SessionSecret   string `yaml:"session_secret"`
	LinkStateSecret string `yaml:"link_state_secret"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxBodyBytes int64   `yaml:"max_body_bytes"`
	RateBurst    int     `yaml:"rate_burst"`
	RatePerSec   float64 `yaml:"rate_per_sec"`

	// TrustProxyHeaders keys rate limits on X-Forwarded-For. Enable only
	// behind a proxy that sets it.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		UpstreamTimeout: 5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,
		RateBurst:       40,
		RatePerSec:      20,
	}
}

// Load resolves the configuration from args (without the program name) and
// the environment lookup function. getenv may be nil, meaning os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	path := getenv(EnvPrefix + "CONFIG")
	pre := pflag.NewFlagSet("deskbridge", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.StringVar(&path, "config", path, "")
	pre.BoolP("help", "h", false, "")
	if err := pre.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parse flags: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := pflag.NewFlagSet("deskbridge", pflag.ContinueOnError)
	var ignored string
	fs.StringVar(&ignored, "config", path, "path to a YAML config file")
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parse flags: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.PublicBaseURL, "public-base-url", c.PublicBaseURL, "externally reachable base URL of the dashboard")
	fs.StringVar(&c.SlackSigningSecret, "slack-signing-secret", c.SlackSigningSecret, "Slack app signing secret")
	fs.StringVar(&c.SlackBotToken, "slack-bot-token", c.SlackBotToken, "Slack bot token (xoxb-...)")
	fs.StringVar(&c.SlackClientID, "slack-client-id", c.SlackClientID, "Slack OAuth client id")
	fs.StringVar(&c.SlackClientSecret, "slack-client-secret", c.SlackClientSecret, "Slack OAuth client secret")
	fs.StringVar(&c.SlackAPIURL, "slack-api-url", c.SlackAPIURL, "override for the Slack Web API base URL")
	fs.StringVar(&c.DatabaseDSN, "database-dsn", c.DatabaseDSN, "Postgres DSN; empty uses the in-memory store")
	fs.BoolVar(&c.AutoMigrate, "auto-migrate", c.AutoMigrate, "apply embedded migrations on startup")
	fs.StringVar(&c.SessionSecret, "session-secret", c.SessionSecret, "HS256 secret for dashboard session tokens")
	fs.StringVar(&c.LinkStateSecret, "link-state-secret", c.LinkStateSecret, "HS256 secret for OAuth state tokens")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or console")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", c.UpstreamTimeout, "timeout for Slack and database calls")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown deadline")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", c.MaxBodyBytes, "maximum accepted request body")
	fs.IntVar(&c.RateBurst, "rate-burst", c.RateBurst, "per-client burst on /slack routes")
	fs.Float64Var(&c.RatePerSec, "rate-per-sec", c.RatePerSec, "per-client refill rate on /slack routes")
	fs.BoolVar(&c.TrustProxyHeaders, "trust-proxy-headers", c.TrustProxyHeaders, "identify clients by X-Forwarded-For (only behind a trusted proxy)")
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("PUBLIC_BASE_URL", &c.PublicBaseURL)
	str("SLACK_SIGNING_SECRET", &c.SlackSigningSecret)
	str("SLACK_BOT_TOKEN", &c.SlackBotToken)
	str("SLACK_CLIENT_ID", &c.SlackClientID)
	str("SLACK_CLIENT_SECRET", &c.SlackClientSecret)
	str("SLACK_API_URL", &c.SlackAPIURL)
	str("DATABASE_DSN", &c.DatabaseDSN)
	str("SESSION_SECRET", &c.SessionSecret)
	str("LINK_STATE_SECRET", &c.LinkStateSecret)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	var errs []error
	parse := func(key string, fn func(string) error) {
		v := getenv(EnvPrefix + key)
		if v == "" {
			return
		}
		if err := fn(v); err != nil {
			errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
		}
	}
	parse("AUTO_MIGRATE", func(v string) (err error) {
		c.AutoMigrate, err = strconv.ParseBool(v)
		return err
	})
	parse("TRUST_PROXY_HEADERS", func(v string) (err error) {
		c.TrustProxyHeaders, err = strconv.ParseBool(v)
		return err
	})
	parse("UPSTREAM_TIMEOUT", func(v string) (err error) {
		c.UpstreamTimeout, err = time.ParseDuration(v)
		return err
	})
	parse("SHUTDOWN_TIMEOUT", func(v string) (err error) {
		c.ShutdownTimeout, err = time.ParseDuration(v)
		return err
	})
	parse("MAX_BODY_BYTES", func(v string) (err error) {
		c.MaxBodyBytes, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("RATE_BURST", func(v string) (err error) {
		c.RateBurst, err = strconv.Atoi(v)
		return err
	})
	parse("RATE_PER_SEC", func(v string) (err error) {
		c.RatePerSec, err = strconv.ParseFloat(v, 64)
		return err
	})
	return errors.Join(errs...)
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ key, val string }{
		{"public_base_url", c.PublicBaseURL},
		{"slack_signing_secret", c.SlackSigningSecret},
		{"slack_bot_token", c.SlackBotToken},
		{"slack_client_id", c.SlackClientID},
		{"slack_client_secret", c.SlackClientSecret},
		{"session_secret", c.SessionSecret},
		{"link_state_secret", c.LinkStateSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Errorf("config: %s is required", r.key))
		}
	}
	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: public_base_url must be an absolute http(s) URL"))
		}
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("config: upstream_timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("config: shutdown_timeout must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("config: max_body_bytes must be positive"))
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("config: rate_burst and rate_per_sec must be positive"))
	}
	return errors.Join(errs...)
}

// BaseURL returns PublicBaseURL without a trailing slash.
func (c Config) BaseURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/")
}
