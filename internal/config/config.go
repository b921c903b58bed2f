package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"doerline/internal/pricing"
)

// Config models doerline.yml.
type Config struct {
	Pricing  pricing.Config  `yaml:"pricing"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Broker   BrokerConfig    `yaml:"broker"`
	Realtime RealtimeConfig  `yaml:"realtime"`
	Retry    RetryConfig     `yaml:"retry"`
	Relay    RelayConfig     `yaml:"relay"`
}

type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// BrokerConfig configures outbound event publishing over AMQP.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// RealtimeConfig selects the subscription hub backend.
type RealtimeConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisDB       int    `yaml:"redis_db"`
	BufferSize    int    `yaml:"buffer_size"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type RetryConfig struct {
	Attempts  int    `yaml:"attempts"`
	BaseDelay string `yaml:"base_delay"`
}

type RelayConfig struct {
	Interval  string `yaml:"interval"`
	BatchSize int    `yaml:"batch_size"`
}

// Delay parses BaseDelay, defaulting to 100ms.
func (r RetryConfig) Delay() time.Duration {
	return parseDuration(r.BaseDelay, 100*time.Millisecond)
}

// Every parses Interval, defaulting to 2s.
func (r RelayConfig) Every() time.Duration {
	return parseDuration(r.Interval, 2*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("config.pricing: %w", err)
	}
	seen := map[string]bool{}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.Name != "" {
			if seen[hook.Name] {
				return fmt.Errorf("config.webhooks has duplicate name %s", hook.Name)
			}
			seen[hook.Name] = true
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch c.Realtime.Backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Realtime.RedisAddr) == "" {
			return fmt.Errorf("config.realtime.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.realtime.backend must be memory or redis")
	}
	if c.Broker.URL != "" && !strings.HasPrefix(c.Broker.URL, "amqp") {
		return fmt.Errorf("config.broker.url must be an amqp:// or amqps:// URL")
	}
	if c.Retry.Attempts < 0 {
		return fmt.Errorf("config.retry.attempts must not be negative")
	}
	if c.Retry.BaseDelay != "" {
		if _, err := time.ParseDuration(c.Retry.BaseDelay); err != nil {
			return fmt.Errorf("config.retry.base_delay: %w", err)
		}
	}
	if c.Relay.Interval != "" {
		if _, err := time.ParseDuration(c.Relay.Interval); err != nil {
			return fmt.Errorf("config.relay.interval: %w", err)
		}
	}
	return nil
}

// WebhookName returns a stable sink name for the hook at index i.
func (c *Config) WebhookName(i int) string {
	if name := strings.TrimSpace(c.Webhooks[i].Name); name != "" {
		return "webhook:" + name
	}
	return fmt.Sprintf("webhook:%d", i)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "doerline.yml")
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset pricing
// options keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `pricing:
  base_price_per_word: 0.5
  base_price_per_page: 125
  urgency_24h_multiplier: 1.5
  urgency_48h_multiplier: 1.3
  urgency_72h_multiplier: 1.15
  supervisor_percentage: 25
  platform_percentage: 10
  floor_price: 500
  minimum_quote: 100

# webhooks:
#   - name: billing
#     url: https://example.com/hooks/doerline
#     events: [project.transitioned, project.cancelled]
#     secret: change-me
webhooks: []

broker:
  url: ""
  exchange: doerline.events

realtime:
  backend: memory
  buffer_size: 64
  channel_prefix: "doerline:"

retry:
  attempts: 3
  base_delay: 100ms

relay:
  interval: 2s
  batch_size: 100
`
