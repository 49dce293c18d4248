// Package config provides configuration management for a framekv node.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/devrev/framekv/internal/network"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FRAMEKV_NODE_INDEX.
const EnvPrefix = "FRAMEKV"

// Config holds all configuration for a node.
type Config struct {
	Node    NodeConfig    `mapstructure:"node"`
	Network NetworkConfig `mapstructure:"network"`
	Store   StoreConfig   `mapstructure:"store"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Gossip  GossipConfig  `mapstructure:"gossip"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// NodeConfig identifies the node within the cluster.
type NodeConfig struct {
	Index       int    `mapstructure:"index"`
	Listen      string `mapstructure:"listen"`
	Advertise   string `mapstructure:"advertise"`
	Rendezvous  string `mapstructure:"rendezvous"`
	ClusterSize int    `mapstructure:"cluster_size"`
}

// NetworkConfig holds peer connection settings.
type NetworkConfig struct {
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	RegisterRetries int           `mapstructure:"register_retries"`
	RegisterBackoff time.Duration `mapstructure:"register_backoff"`
	MaxFrameSize    int           `mapstructure:"max_frame_size"`
}

// StoreConfig holds column storage settings.
type StoreConfig struct {
	SegmentCapacity int `mapstructure:"segment_capacity"`
}

// AdminConfig holds the admin HTTP server configuration.
type AdminConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit         bool          `mapstructure:"rate_limit"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
}

// GossipConfig holds gossip protocol configuration.
type GossipConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BindAddr       string        `mapstructure:"bind_addr"`
	BindPort       int           `mapstructure:"bind_port"`
	Seeds          []string      `mapstructure:"seeds"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance with defaults and environment overrides
// installed. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from configPath (if set) into v and validates it.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("node.index", 0)
	v.SetDefault("node.listen", "127.0.0.1:7000")
	v.SetDefault("node.advertise", "")
	v.SetDefault("node.rendezvous", "")
	v.SetDefault("node.cluster_size", 0)

	// Network defaults
	v.SetDefault("network.dial_timeout", "5s")
	v.SetDefault("network.register_retries", 10)
	v.SetDefault("network.register_backoff", "500ms")
	v.SetDefault("network.max_frame_size", 64<<20)

	v.SetDefault("store.segment_capacity", 1024)

	// Admin defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.port", 9100)
	v.SetDefault("admin.read_timeout", "10s")
	v.SetDefault("admin.write_timeout", "10s")
	v.SetDefault("admin.shutdown_timeout", "5s")
	v.SetDefault("admin.rate_limit", true)
	v.SetDefault("admin.requests_per_second", 100.0)
	v.SetDefault("admin.burst_size", 20)

	// Gossip defaults
	v.SetDefault("gossip.enabled", false)
	v.SetDefault("gossip.bind_addr", "0.0.0.0")
	v.SetDefault("gossip.bind_port", 7946)
	v.SetDefault("gossip.seeds", []string{})
	v.SetDefault("gossip.gossip_interval", "200ms")
	v.SetDefault("gossip.probe_interval", "1s")
	v.SetDefault("gossip.probe_timeout", "500ms")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Node.Index < 0 {
		return fmt.Errorf("invalid node index: %d", c.Node.Index)
	}
	if _, _, err := net.SplitHostPort(c.Node.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Node.Listen, err)
	}
	if c.Node.Index != network.RendezvousIndex && c.Node.Rendezvous == "" {
		return fmt.Errorf("node %d needs a rendezvous address", c.Node.Index)
	}
	if c.Node.ClusterSize < 0 {
		return fmt.Errorf("invalid cluster size: %d", c.Node.ClusterSize)
	}
	if c.Node.ClusterSize > 0 && c.Node.Index >= c.Node.ClusterSize {
		return fmt.Errorf("node index %d outside cluster of %d", c.Node.Index, c.Node.ClusterSize)
	}

	if c.Network.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.Network.RegisterRetries <= 0 {
		return fmt.Errorf("register retries must be positive")
	}
	if c.Network.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size must be positive")
	}

	if c.Store.SegmentCapacity <= 0 {
		return fmt.Errorf("segment capacity must be positive")
	}

	if c.Admin.Enabled {
		if c.Admin.Port < 0 || c.Admin.Port > 65535 {
			return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
		}
		if c.Admin.RateLimit {
			if c.Admin.RequestsPerSecond <= 0 {
				return fmt.Errorf("admin requests per second must be positive")
			}
			if c.Admin.BurstSize <= 0 {
				return fmt.Errorf("admin burst size must be positive")
			}
		}
	}

	if c.Gossip.Enabled && (c.Gossip.BindPort < 0 || c.Gossip.BindPort > 65535) {
		return fmt.Errorf("invalid gossip port: %d", c.Gossip.BindPort)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	return nil
}

// NetworkConfig converts the node and network sections for network.NewNetwork.
func (c *Config) NetworkConfig() network.Config {
	return network.Config{
		Index:           c.Node.Index,
		ListenAddr:      c.Node.Listen,
		AdvertiseAddr:   c.Node.Advertise,
		RendezvousAddr:  c.Node.Rendezvous,
		DialTimeout:     c.Network.DialTimeout,
		RegisterRetries: c.Network.RegisterRetries,
		RegisterBackoff: c.Network.RegisterBackoff,
		MaxFrameSize:    c.Network.MaxFrameSize,
	}
}
