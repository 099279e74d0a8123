package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a swarm sync node
type Config struct {
	// Application settings
	ConfigFile string `mapstructure:"config_file" yaml:"config_file"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	NodeID     string `mapstructure:"node_id" yaml:"node_id"`

	// Server settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Gossip settings
	Gossip GossipConfig `mapstructure:"gossip" yaml:"gossip"`

	// Consensus settings
	Consensus ConsensusConfig `mapstructure:"consensus" yaml:"consensus"`

	// Convergence settings
	Convergence ConvergenceConfig `mapstructure:"convergence" yaml:"convergence"`

	// Monitoring settings
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type GossipConfig struct {
	Fanout              int           `mapstructure:"fanout" yaml:"fanout"`
	Interval            time.Duration `mapstructure:"interval" yaml:"interval"`
	TTL                 int           `mapstructure:"ttl" yaml:"ttl"`
	MaxConcurrent       int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	SuspectTimeout      time.Duration `mapstructure:"suspect_timeout" yaml:"suspect_timeout"`
	DeadTimeout         time.Duration `mapstructure:"dead_timeout" yaml:"dead_timeout"`
	SeenExpiry          time.Duration `mapstructure:"seen_expiry" yaml:"seen_expiry"`
	AntiEntropyInterval time.Duration `mapstructure:"anti_entropy_interval" yaml:"anti_entropy_interval"`
}

type ConsensusConfig struct {
	TotalNodes int           `mapstructure:"total_nodes" yaml:"total_nodes"`
	VoteWait   time.Duration `mapstructure:"vote_wait" yaml:"vote_wait"`
}

type ConvergenceConfig struct {
	// Threshold filters which beliefs count as converged for external
	// consumers. Must lie in (0, 1].
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
}

type MonitoringConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath       string `mapstructure:"metrics_path" yaml:"metrics_path"`
	MetricsPort       int    `mapstructure:"metrics_port" yaml:"metrics_port"`
	HealthPath        string `mapstructure:"health_path" yaml:"health_path"`
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled" yaml:"prometheus_enabled"`

	// Health check settings
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
}

// Load loads configuration from environment variables and default values
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/swarmsync")

	// Set default values
	setDefaults()

	// Environment variable support
	viper.SetEnvPrefix("SWARMSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Generate node ID if not set
	if config.NodeID == "" {
		hostname, _ := os.Hostname()
		config.NodeID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(filename string) (*Config, error) {
	viper.SetConfigFile(filename)

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", filename, err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Application defaults
	viper.SetDefault("log_level", "info")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "60s")

	// Gossip defaults
	viper.SetDefault("gossip.fanout", 3)
	viper.SetDefault("gossip.interval", "500ms")
	viper.SetDefault("gossip.ttl", 5)
	viper.SetDefault("gossip.max_concurrent", 10)
	viper.SetDefault("gossip.suspect_timeout", "10s")
	viper.SetDefault("gossip.dead_timeout", "30s")
	viper.SetDefault("gossip.seen_expiry", "5m")
	viper.SetDefault("gossip.anti_entropy_interval", "5s")

	// Consensus defaults
	viper.SetDefault("consensus.total_nodes", 1)
	viper.SetDefault("consensus.vote_wait", "5s")

	// Convergence defaults
	viper.SetDefault("convergence.threshold", 0.7)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.metrics_port", 9090)
	viper.SetDefault("monitoring.health_path", "/health")
	viper.SetDefault("monitoring.prometheus_enabled", true)
	viper.SetDefault("monitoring.health_check_interval", "30s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Gossip.Fanout <= 0 {
		return fmt.Errorf("gossip fanout must be positive")
	}

	if c.Gossip.Interval <= 0 {
		return fmt.Errorf("gossip interval must be positive")
	}

	if c.Gossip.TTL <= 0 {
		return fmt.Errorf("gossip ttl must be positive")
	}

	if c.Gossip.SuspectTimeout <= 0 || c.Gossip.DeadTimeout <= 0 {
		return fmt.Errorf("gossip liveness timeouts must be positive")
	}

	if c.Gossip.DeadTimeout <= c.Gossip.SuspectTimeout {
		return fmt.Errorf("gossip dead timeout must exceed suspect timeout")
	}

	if c.Consensus.TotalNodes <= 0 {
		return fmt.Errorf("consensus total nodes must be positive")
	}

	if c.Convergence.Threshold <= 0 || c.Convergence.Threshold > 1 {
		return fmt.Errorf("convergence threshold must be in (0, 1]: %f", c.Convergence.Threshold)
	}

	return nil
}
