// Package config holds the typed service configuration.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/secrets"
)

const EnvPrefix = "ADVANCER"

const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	Debug      bool             `mapstructure:"debug"`
	JSON       bool             `mapstructure:"json"`
	DryRun     bool             `mapstructure:"dry-run"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ashby      AshbyConfig      `mapstructure:"ashby"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Feedback   FeedbackConfig   `mapstructure:"feedback"`
	Metadata   MetadataConfig   `mapstructure:"metadata"`
	Lock       LockConfig       `mapstructure:"lock"`
	Slack      SlackConfig      `mapstructure:"slack"`
	HTTP       HTTPConfig       `mapstructure:"http"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxOpenConns   int    `mapstructure:"max-open-conns"`
	MigrateOnStart bool   `mapstructure:"migrate-on-start"`
}

type AshbyConfig struct {
	APIKey            string        `mapstructure:"api-key"`
	APIKeyFile        string        `mapstructure:"api-key-file"`
	WebhookSecret     string        `mapstructure:"webhook-secret"`
	WebhookSecretFile string        `mapstructure:"webhook-secret-file"`
	APIURL            string        `mapstructure:"api-url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RateLimit         float64       `mapstructure:"rate-limit"`
	ArchiveReasonID   string        `mapstructure:"archive-reason-id"`

	// Empty archives without emailing the candidate.
	RejectionTemplateID string `mapstructure:"rejection-template-id"`
}

type EvaluationConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MinWait     time.Duration `mapstructure:"min-wait"`
	StaleAfter  time.Duration `mapstructure:"stale-after"`
	Workers     int           `mapstructure:"workers"`
	MaxAttempts int           `mapstructure:"max-attempts"`
	BackoffBase time.Duration `mapstructure:"backoff-base"`
}

type FeedbackConfig struct {
	SyncInterval time.Duration `mapstructure:"sync-interval"`
	Workers      int           `mapstructure:"workers"`
}

type MetadataConfig struct {
	RefetchInterval time.Duration `mapstructure:"refetch-interval"`
	RefetchBatch    int           `mapstructure:"refetch-batch"`
}

type LockConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis-url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SlackConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
	Channel   string `mapstructure:"channel"`
}

type HTTPConfig struct {
	Addr           string `mapstructure:"addr"`
	AdminToken     string `mapstructure:"admin-token"`
	AdminTokenFile string `mapstructure:"admin-token-file"`
}

// defaults are keyed by viper path so that env overrides work for every key.
var defaults = map[string]any{
	"dry-run":                     false,
	"database.max-open-conns":     10,
	"database.migrate-on-start":   false,
	"ashby.api-url":               "https://api.ashbyhq.com",
	"ashby.timeout":               30 * time.Second,
	"ashby.rate-limit":            5.0,
	"evaluation.interval":         5 * time.Minute,
	"evaluation.min-wait":         30 * time.Minute,
	"evaluation.stale-after":      7 * 24 * time.Hour,
	"evaluation.workers":          4,
	"evaluation.max-attempts":     3,
	"evaluation.backoff-base":     2 * time.Second,
	"feedback.sync-interval":      10 * time.Minute,
	"feedback.workers":            4,
	"metadata.refetch-interval":   time.Hour,
	"metadata.refetch-batch":      50,
	"lock.backend":                LockLocal,
	"lock.ttl":                    2 * time.Minute,
	"http.addr":                   ":8080",
	"slack.channel":               "#recruiting",
	"database.url":                "",
	"ashby.api-key":               "",
	"ashby.api-key-file":          "",
	"ashby.webhook-secret":        "",
	"ashby.webhook-secret-file":   "",
	"ashby.archive-reason-id":     "",
	"ashby.rejection-template-id": "",
	"lock.redis-url":              "",
	"slack.token":                 "",
	"slack.token-file":            "",
	"http.admin-token":            "",
	"http.admin-token-file":       "",
}

// envAliases are the environment names deployments already use.
var envAliases = map[string]string{
	"database.url":            "DATABASE_URL",
	"ashby.api-key":           "ASHBY_API_KEY",
	"ashby.webhook-secret":    "ASHBY_WEBHOOK_SECRET",
	"ashby.archive-reason-id": "DEFAULT_ARCHIVE_REASON_ID",
	"slack.token":             "SLACK_BOT_TOKEN",
	"lock.redis-url":          "REDIS_URL",
}

// Setup registers defaults and environment bindings on v.
func Setup(v *viper.Viper) error {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return errors.Wrapf(err, "binding %s", alias)
		}
	}

	return nil
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "loading %s", path)
		}
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding configuration"), errors.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, errors.NewConfigurationError("%s must be positive, got %s", name, d))
		}
	}

	if c.Evaluation.MinWait < 0 {
		errs = append(errs, errors.NewConfigurationError("evaluation.min-wait must not be negative"))
	}
	positive("evaluation.interval", c.Evaluation.Interval)
	positive("evaluation.stale-after", c.Evaluation.StaleAfter)
	positive("evaluation.backoff-base", c.Evaluation.BackoffBase)
	positive("feedback.sync-interval", c.Feedback.SyncInterval)
	positive("metadata.refetch-interval", c.Metadata.RefetchInterval)
	positive("ashby.timeout", c.Ashby.Timeout)
	positive("lock.ttl", c.Lock.TTL)

	if c.Evaluation.Workers <= 0 || c.Feedback.Workers <= 0 {
		errs = append(errs, errors.NewConfigurationError("worker counts must be positive"))
	}
	if c.Evaluation.MaxAttempts <= 0 {
		errs = append(errs, errors.NewConfigurationError("evaluation.max-attempts must be positive"))
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if strings.TrimSpace(c.Lock.RedisURL) == "" {
			errs = append(errs, errors.WithHint(
				errors.NewConfigurationError("lock backend redis needs a redis url"),
				"set REDIS_URL",
			))
		}
	default:
		errs = append(errs, errors.NewConfigurationError("unknown lock backend %q", c.Lock.Backend))
	}

	return errors.Join(errs...)
}

func (c *Config) ATSKey() (string, error) {
	return secrets.Load(secrets.Source{Name: "ashby api key", Value: c.Ashby.APIKey, File: c.Ashby.APIKeyFile})
}

// WebhookSecret is empty when signature verification is disabled.
func (c *Config) WebhookSecret() (string, error) {
	return secrets.Load(secrets.Source{
		Name: "ashby webhook secret", Value: c.Ashby.WebhookSecret, File: c.Ashby.WebhookSecretFile, Optional: true,
	})
}

// SlackToken is empty when notices go to the log only.
func (c *Config) SlackToken() (string, error) {
	return secrets.Load(secrets.Source{Name: "slack token", Value: c.Slack.Token, File: c.Slack.TokenFile, Optional: true})
}

// AdminToken is empty when the admin API is disabled.
func (c *Config) AdminToken() (string, error) {
	return secrets.Load(secrets.Source{
		Name: "admin token", Value: c.HTTP.AdminToken, File: c.HTTP.AdminTokenFile, Optional: true,
	})
}

func (c *Config) DatabaseURL() (string, error) {
	url := strings.TrimSpace(c.Database.URL)
	if url == "" {
		return "", errors.WithHint(errors.NewConfigurationError("database url is not configured"), "set DATABASE_URL")
	}
	return url, nil
}
