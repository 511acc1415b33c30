package boardwatch

import (
	"github.com/hazyhaar/boardwatch/boardwatch/internal/config"
)

// Config is the top-level boardwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig locates the watched board.
type PageConfig = config.PageConfig

// StabilizerConfig holds the sample/confirm timings.
type StabilizerConfig = config.StabilizerConfig

// FeedConfig configures the direct position feed.
type FeedConfig = config.FeedConfig

// ChannelConfig configures the move-submission websocket.
type ChannelConfig = config.ChannelConfig

// EngineConfig selects and tunes the move engine.
type EngineConfig = config.EngineConfig

// StoreConfig configures the emission history database.
type StoreConfig = config.StoreConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// HTTPConfig configures the API listener.
type HTTPConfig = config.HTTPConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
