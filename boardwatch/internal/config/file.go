// Package config handles boardwatch configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level boardwatch configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Page       PageConfig       `yaml:"page"`
	Stabilizer StabilizerConfig `yaml:"stabilizer"`
	Feed       FeedConfig       `yaml:"feed"`
	Channel    ChannelConfig    `yaml:"channel"`
	Engine     EngineConfig     `yaml:"engine"`
	Store      StoreConfig      `yaml:"store"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle. Disabled skips the browser and
// reads the page as static HTML.
type BrowserConfig struct {
	Disabled         bool          `yaml:"disabled"`
	Remote           string        `yaml:"remote"`
	Headless         *bool         `yaml:"headless"`
	Stealth          *bool         `yaml:"stealth"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// PageConfig locates the watched board.
type PageConfig struct {
	ID        string `yaml:"id"`
	URL       string `yaml:"url"`
	Selector  string `yaml:"selector"`
	Widget    string `yaml:"widget"`
	Attribute string `yaml:"attribute"`
	// Strategy forces the change source: events | mutation | poll | auto.
	Strategy     string        `yaml:"strategy"`
	Events       []string      `yaml:"events"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// StabilizerConfig holds the sample/confirm timings.
type StabilizerConfig struct {
	SettleDelay  time.Duration `yaml:"settle_delay"`
	ConfirmDelay time.Duration `yaml:"confirm_delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

// FeedConfig configures the direct position feed. URL dials a websocket;
// Tap listens to the page's own sockets whose URL contains the value
// ("*" for all).
type FeedConfig struct {
	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`
	Tap        string            `yaml:"tap"`
	Keepalive  time.Duration     `yaml:"keepalive"`
	MinBackoff time.Duration     `yaml:"min_backoff"`
	MaxBackoff time.Duration     `yaml:"max_backoff"`
}

// ChannelConfig configures the move-submission websocket. When Feed is
// set, inbound frames on the channel are also handled as feed messages.
type ChannelConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Feed    bool              `yaml:"feed"`
}

// EngineConfig selects and tunes the move engine.
type EngineConfig struct {
	Strategy string            `yaml:"strategy"` // local | http | noop
	Path     string            `yaml:"path"`
	Args     []string          `yaml:"args"`
	Options  map[string]string `yaml:"options"`
	Endpoint string            `yaml:"endpoint"`
	Timeout  time.Duration     `yaml:"timeout"`
	Retries  int               `yaml:"retries"`
	Budget   time.Duration     `yaml:"budget"`
	Color    string            `yaml:"color"` // w | b | any
	Autoplay bool              `yaml:"autoplay"`
}

// StoreConfig configures the emission history database. Empty Path keeps
// history in memory.
type StoreConfig struct {
	Path  string        `yaml:"path"`
	Keep  int           `yaml:"keep"`
	Prune time.Duration `yaml:"prune"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`
}

// HTTPConfig configures the API listener. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset knobs. Stabilizer and poll timings are left to
// the packages that own them.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Page.ID == "" {
		c.Page.ID = "board"
	}
	if c.Page.Strategy == "" {
		c.Page.Strategy = "auto"
	}
	if c.Page.ReadTimeout <= 0 {
		c.Page.ReadTimeout = time.Second
	}
	if c.Engine.Strategy == "" {
		c.Engine.Strategy = "noop"
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = 5 * time.Second
	}
	if c.Engine.Budget <= 0 {
		c.Engine.Budget = time.Second
	}
	if c.Engine.Color == "" {
		c.Engine.Color = "any"
	}
	if c.Store.Keep <= 0 {
		c.Store.Keep = 10000
	}
	if c.Store.Prune <= 0 {
		c.Store.Prune = time.Hour
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Page.URL == "" {
		return fmt.Errorf("config: page.url is required")
	}
	if c.Browser.Disabled && c.Page.Selector == "" {
		return fmt.Errorf("config: page.selector is required without a browser")
	}
	switch c.Page.Strategy {
	case "auto", "events", "mutation", "poll":
	default:
		return fmt.Errorf("config: unknown page.strategy %q", c.Page.Strategy)
	}
	switch c.Engine.Strategy {
	case "local":
		if c.Engine.Path == "" {
			return fmt.Errorf("config: engine.path is required for the local strategy")
		}
	case "http":
		if c.Engine.Endpoint == "" {
			return fmt.Errorf("config: engine.endpoint is required for the http strategy")
		}
	case "noop":
	default:
		return fmt.Errorf("config: unknown engine.strategy %q", c.Engine.Strategy)
	}
	switch c.Engine.Color {
	case "w", "b", "any":
	default:
		return fmt.Errorf("config: engine.color must be w, b or any, got %q", c.Engine.Color)
	}
	if c.Feed.Tap != "" && c.Browser.Disabled {
		return fmt.Errorf("config: feed.tap needs the browser")
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink needs a url")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}
