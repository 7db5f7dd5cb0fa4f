// Package config provides centralized configuration for pulsefeed.
//
// Configuration is layered: built-in defaults, then the YAML config file,
// then environment variables. Env vars win so deployments can override a
// shared file per instance.
//
// Environment variables:
//   - PULSEFEED_CONFIG: Path to the config file (default: pulsefeed.yaml)
//   - PULSEFEED_LISTEN_ADDR: Webhook server listen address
//   - PULSEFEED_WEBHOOK_SECRET: GitHub webhook HMAC secret
//   - PULSEFEED_DATABASE_URL: Postgres DSN
//   - PULSEFEED_REDIS_ADDR: Redis address for the worker lease
//   - PULSEFEED_GITHUB_TOKEN: Token for GitHub API enrichment
//   - PULSEFEED_SUMMARIZER_URL: Summarizer service endpoint
//   - PULSEFEED_SUMMARIZER_KEY: Summarizer service API key
//   - PULSEFEED_SENDGRID_KEY: SendGrid API key for milestone mail
//   - PULSEFEED_MAIL_FROM: Milestone mail sender address
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// === Defaults ===

const (
	// DefaultConfigFile is the config file read when PULSEFEED_CONFIG is unset.
	DefaultConfigFile = "pulsefeed.yaml"

	// DefaultListenAddr is the webhook server's listen address.
	DefaultListenAddr = ":8080"

	// DefaultBatchInterval is how often the worker starts a batch run.
	DefaultBatchInterval = time.Minute

	// DefaultInterEventDelay is the pause between events inside a batch.
	DefaultInterEventDelay = time.Second

	// DefaultBatchBudget is the wall-clock budget for processing one batch.
	DefaultBatchBudget = 10 * time.Minute

	// DefaultMailFrom is the milestone mail sender when none is configured.
	DefaultMailFrom = "feed@pulsefeed.dev"

	// DefaultMailFromName is the display name on milestone mail.
	DefaultMailFromName = "PulseFeed"

	// DefaultLeaseKey is the redis key guarding the single-worker lease.
	DefaultLeaseKey = "pulsefeed:worker:lease"
)

// Config holds the full pulsefeed runtime configuration.
type Config struct {
	// ListenAddr is the webhook server's listen address.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	// WebhookSecret is the GitHub webhook HMAC secret. Empty disables
	// signature validation, which is only sensible in development.
	WebhookSecret string `yaml:"webhook_secret,omitempty"`

	// DatabaseURL is the postgres DSN for all persistent state.
	DatabaseURL string `yaml:"database_url,omitempty"`
	// RedisAddr is the redis address for the worker lease. Empty falls
	// back to an in-process lock, suitable for single-instance deploys.
	RedisAddr string `yaml:"redis_addr,omitempty"`
	// LeaseKey is the redis key guarding the single-worker lease.
	LeaseKey string `yaml:"lease_key,omitempty"`

	// GitHubToken authenticates the enrichment API calls. Empty works but
	// runs into GitHub's unauthenticated rate limits quickly.
	GitHubToken string `yaml:"github_token,omitempty"`

	// SummarizerURL is the endpoint of the summarizing agent service.
	SummarizerURL string `yaml:"summarizer_url,omitempty"`
	// SummarizerKey is the API key for the summarizer service.
	SummarizerKey string `yaml:"summarizer_key,omitempty"`

	// SendGridKey is the SendGrid API key for milestone notifications.
	// Empty disables outbound mail; milestones are still recorded.
	SendGridKey string `yaml:"sendgrid_key,omitempty"`
	// MailFrom is the sender address on milestone mail.
	MailFrom string `yaml:"mail_from,omitempty"`
	// MailFromName is the sender display name on milestone mail.
	MailFromName string `yaml:"mail_from_name,omitempty"`

	// BatchInterval is how often the worker starts a batch run.
	BatchInterval time.Duration `yaml:"batch_interval,omitempty"`
	// InterEventDelay is the pause between events inside a batch.
	InterEventDelay time.Duration `yaml:"inter_event_delay,omitempty"`
	// BatchBudget is the wall-clock budget for processing one batch.
	BatchBudget time.Duration `yaml:"batch_budget,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty"`
}

// Load reads configuration from the given file path, overlays environment
// variables, and fills defaults. A missing file is not an error: env vars
// plus defaults are a complete configuration.
func Load(path string) (*Config, error) {
	// A local .env is developer convenience only, so a missing one is fine.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env + defaults
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

// Path returns the config file path, honoring PULSEFEED_CONFIG.
func Path() string {
	if p := os.Getenv("PULSEFEED_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigFile
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "PULSEFEED_LISTEN_ADDR")
	setString(&c.WebhookSecret, "PULSEFEED_WEBHOOK_SECRET")
	setString(&c.DatabaseURL, "PULSEFEED_DATABASE_URL")
	setString(&c.RedisAddr, "PULSEFEED_REDIS_ADDR")
	setString(&c.GitHubToken, "PULSEFEED_GITHUB_TOKEN")
	setString(&c.SummarizerURL, "PULSEFEED_SUMMARIZER_URL")
	setString(&c.SummarizerKey, "PULSEFEED_SUMMARIZER_KEY")
	setString(&c.SendGridKey, "PULSEFEED_SENDGRID_KEY")
	setString(&c.MailFrom, "PULSEFEED_MAIL_FROM")
	setDuration(&c.BatchInterval, "PULSEFEED_BATCH_INTERVAL")
	setDuration(&c.InterEventDelay, "PULSEFEED_INTER_EVENT_DELAY")
	setDuration(&c.BatchBudget, "PULSEFEED_BATCH_BUDGET")
	if v := os.Getenv("PULSEFEED_DEBUG"); v == "1" || v == "true" {
		c.Debug = true
	}
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.LeaseKey == "" {
		c.LeaseKey = DefaultLeaseKey
	}
	if c.MailFrom == "" {
		c.MailFrom = DefaultMailFrom
	}
	if c.MailFromName == "" {
		c.MailFromName = DefaultMailFromName
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.InterEventDelay <= 0 {
		c.InterEventDelay = DefaultInterEventDelay
	}
	if c.BatchBudget <= 0 {
		c.BatchBudget = DefaultBatchBudget
	}
}

// Validate reports configuration problems that would only surface at
// runtime otherwise. Which fields are required depends on the command, so
// callers pass the features they are about to use.
func (c *Config) Validate(needDB, needSummarizer bool) error {
	if needDB && c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (set PULSEFEED_DATABASE_URL)")
	}
	if needSummarizer && c.SummarizerURL == "" {
		return fmt.Errorf("summarizer_url is required (set PULSEFEED_SUMMARIZER_URL)")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return
	}
	*dst = d
}
