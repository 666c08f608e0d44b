// Package config loads and watches the groom.yaml process configuration.
package config

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/groombot/groom/internal/github"
)

// Config is the full process configuration.
type Config struct {
	// Listen is the webhook server bind address.
	Listen string `mapstructure:"listen"`

	// Platforms are the webhook sources accepted on ingress; the event kind
	// is read from the first x-<platform>-event header present.
	Platforms []string `mapstructure:"platforms"`

	// Org, Token and APIURL are the process-wide defaults for repositories
	// without their own override.
	Org    string `mapstructure:"org"`
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`

	// WebhookSecret enables HMAC validation of inbound deliveries when set.
	WebhookSecret string `mapstructure:"webhook_secret"`

	Repos []RepoConfig `mapstructure:"repos"`

	// LabelsTemplate is the URL of the shared label definitions JSON.
	LabelsTemplate string `mapstructure:"labels_template"`

	// TemplatesDir holds the issue/PR markdown templates.
	TemplatesDir string `mapstructure:"templates_dir"`

	// GiphyAPIKey enables the merged-PR celebration comment when set.
	GiphyAPIKey string `mapstructure:"giphy_api_key"`

	Reminders RemindersConfig `mapstructure:"reminders"`

	v *viper.Viper
}

// RepoConfig overrides the process defaults for one repository.
type RepoConfig struct {
	Name   string `mapstructure:"name"`
	Org    string `mapstructure:"org"`
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`
}

// RemindersConfig groups the reminder settings.
type RemindersConfig struct {
	MissingTopicLabels MissingTopicLabelsConfig `mapstructure:"missing_topic_labels"`
}

// MissingTopicLabelsConfig configures the missing-topic-label reminder.
type MissingTopicLabelsConfig struct {
	// TopicLabels is the set of labels at least one of which every issue
	// should carry, in repositories that define any of them.
	TopicLabels []string `mapstructure:"topic_labels"`

	// Delay is how long to wait before reminding.
	Delay time.Duration `mapstructure:"delay"`
}

// Load reads configuration from path (or the default search locations when
// path is empty), applying GROOM_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("groom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/groom")
	}

	v.SetDefault("listen", ":3000")
	v.SetDefault("platforms", []string{"github"})
	v.SetDefault("api_url", github.DefaultAPIEndpoint)
	v.SetDefault("reminders.missing_topic_labels.delay", "30m")

	v.SetEnvPrefix("GROOM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// Validate checks that the configuration can drive the daemon.
func (c *Config) Validate() error {
	if c.Token == "" {
		for _, r := range c.Repos {
			if r.Token == "" {
				return fmt.Errorf("no token for repository %q and no default token", r.Name)
			}
		}
		if len(c.Repos) == 0 {
			return fmt.Errorf("a default token is required")
		}
	}
	if c.Org == "" {
		for _, r := range c.Repos {
			if r.Org == "" {
				return fmt.Errorf("no org for repository %q and no default org", r.Name)
			}
		}
	}
	return nil
}

// Repo returns the effective settings for a repository: its override merged
// over the process defaults. Unknown repositories get the defaults, since
// webhooks may arrive from any repository in the organization.
func (c *Config) Repo(name string) RepoConfig {
	out := RepoConfig{Name: name, Org: c.Org, Token: c.Token, APIURL: c.APIURL}
	for _, r := range c.Repos {
		if r.Name != name {
			continue
		}
		if r.Org != "" {
			out.Org = r.Org
		}
		if r.Token != "" {
			out.Token = r.Token
		}
		if r.APIURL != "" {
			out.APIURL = r.APIURL
		}
		break
	}
	return out
}

// Watch re-reads the configuration whenever the file changes and publishes
// the result to the store. Decode failures keep the previous configuration.
func (c *Config) Watch(store *Store, log *slog.Logger) {
	if c.v == nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := c.v.Unmarshal(&next); err != nil {
			log.Warn("ignoring config change", "file", e.Name, "err", err)
			return
		}
		next.v = c.v
		store.Set(&next)
		log.Info("config reloaded", "file", e.Name)
	})
	c.v.WatchConfig()
}

// Store hands out the current configuration to long-lived components, so a
// reload is visible without restarting them.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store holding cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the latest configuration.
func (s *Store) Current() *Config { return s.current.Load() }

// Set replaces the current configuration.
func (s *Store) Set(cfg *Config) { s.current.Store(cfg) }
