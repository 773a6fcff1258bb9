package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ocx/uaal/internal/drift"
)

const (
	ModeShadow  = "shadow"
	ModeEnforce = "enforce"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Firewall FirewallConfig `yaml:"firewall"`
	Policy   PolicyConfig   `yaml:"policy"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Rollout  RolloutConfig  `yaml:"rollout"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`
}

type ServerConfig struct {
	Port      string  `yaml:"port"`
	Env       string  `yaml:"env"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst int     `yaml:"rate_burst"`
}

type FirewallConfig struct {
	Mode string `yaml:"mode"`

	// Thresholds selects a preset: "default" (10/100/1000) or "static"
	// (critical above 100). CustomThresholds wins when set.
	Thresholds       string            `yaml:"thresholds"`
	CustomThresholds *drift.Thresholds `yaml:"custom_thresholds"`

	CoordinatedWindow    time.Duration `yaml:"coordinated_window"`
	CoordinatedThreshold int           `yaml:"coordinated_threshold"`
	ZScoreThreshold      float64       `yaml:"zscore_threshold"`

	Store StoreConfig `yaml:"store"`
}

type StoreConfig struct {
	Kind     string `yaml:"kind"` // memory, postgres, sqlite
	Capacity int    `yaml:"capacity"`
	DSN      string `yaml:"dsn"`
}

type PolicyConfig struct {
	RulesFile string `yaml:"rules_file"`
}

type SinksConfig struct {
	Timeout    time.Duration    `yaml:"timeout"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	Redis      RedisConfig      `yaml:"redis"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
}

type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type PubSubConfig struct {
	ProjectID       string `yaml:"project_id"`
	TopicID         string `yaml:"topic_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`

	// SharedWindow moves the coordinated window into Redis so every
	// instance sees the same actors.
	SharedWindow bool   `yaml:"shared_window"`
	WindowKey    string `yaml:"window_key"`
}

type CloudTasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	TargetURL  string `yaml:"target_url"`
}

type RolloutConfig struct {
	Enabled           bool     `yaml:"enabled"`
	CurrentPercentage float64  `yaml:"current_percentage"`
	Exceptions        []string `yaml:"exceptions"`
	Seed              uint64   `yaml:"seed"`
}

type AnomalyConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns a config that runs the firewall in shadow mode with an
// in-memory store and no sinks.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development", RateLimit: 50, RateBurst: 100},
		Firewall: FirewallConfig{
			Mode:                 ModeShadow,
			Thresholds:           "default",
			CoordinatedWindow:    5 * time.Minute,
			CoordinatedThreshold: 3,
			ZScoreThreshold:      3,
			Store:                StoreConfig{Kind: "memory", Capacity: 10000},
		},
		Sinks: SinksConfig{
			Timeout: 5 * time.Second,
			PubSub:  PubSubConfig{TopicID: "uaal-decisions"},
			Redis:   RedisConfig{Channel: "uaal-decisions", WindowKey: "uaal:coordinated:events"},
		},
		Rollout: RolloutConfig{CurrentPercentage: 100},
		Anomaly: AnomalyConfig{Timeout: 2 * time.Second},
	}
}

// LoadConfig reads a YAML file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("UAAL_MODE"); v != "" {
		c.Firewall.Mode = v
	}
	if v := getenv("UAAL_WEBHOOK_URL"); v != "" {
		c.Sinks.Webhook.URL = v
	}
	if v := getenv("UAAL_WEBHOOK_SECRET"); v != "" {
		c.Sinks.Webhook.Secret = v
	}
	if v := getenv("UAAL_REDIS_ADDR"); v != "" {
		c.Sinks.Redis.Addr = v
	}
	if v := getenv("UAAL_PUBSUB_PROJECT"); v != "" {
		c.Sinks.PubSub.ProjectID = v
	}
	if v := getenv("UAAL_ROLLOUT_PERCENTAGE"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil {
			c.Rollout.Enabled = true
			c.Rollout.CurrentPercentage = pct
		}
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
}

// Validate checks values the firewall cannot run with.
func (c *Config) Validate() error {
	switch c.Firewall.Mode {
	case ModeShadow, ModeEnforce:
	default:
		return fmt.Errorf("firewall.mode must be %q or %q, got %q", ModeShadow, ModeEnforce, c.Firewall.Mode)
	}

	if _, err := c.Firewall.DriftThresholds(); err != nil {
		return err
	}
	if c.Firewall.CoordinatedWindow <= 0 {
		return fmt.Errorf("firewall.coordinated_window must be positive")
	}
	if c.Firewall.CoordinatedThreshold < 1 {
		return fmt.Errorf("firewall.coordinated_threshold must be at least 1")
	}

	switch c.Firewall.Store.Kind {
	case "memory":
		if c.Firewall.Store.Capacity < 1 {
			return fmt.Errorf("firewall.store.capacity must be at least 1")
		}
	case "postgres", "sqlite":
		if c.Firewall.Store.DSN == "" {
			return fmt.Errorf("firewall.store.dsn is required for %s", c.Firewall.Store.Kind)
		}
	default:
		return fmt.Errorf("unknown firewall.store.kind %q", c.Firewall.Store.Kind)
	}

	if p := c.Rollout.CurrentPercentage; p < 0 || p > 100 {
		return fmt.Errorf("rollout.current_percentage must be within [0,100], got %v", p)
	}
	if c.Sinks.Timeout <= 0 {
		return fmt.Errorf("sinks.timeout must be positive")
	}
	return nil
}

// DriftThresholds resolves the configured tier thresholds.
func (f FirewallConfig) DriftThresholds() (drift.Thresholds, error) {
	t := drift.DefaultThresholds
	switch f.Thresholds {
	case "", "default":
	case "static":
		t = drift.StaticThresholds
	default:
		return drift.Thresholds{}, fmt.Errorf("unknown firewall.thresholds preset %q", f.Thresholds)
	}
	if f.CustomThresholds != nil {
		t = *f.CustomThresholds
	}
	if !(t.Medium < t.High && t.High <= t.Critical) || t.Medium < 0 {
		return drift.Thresholds{}, fmt.Errorf("drift thresholds must be increasing, got %v/%v/%v", t.Medium, t.High, t.Critical)
	}
	return t, nil
}
