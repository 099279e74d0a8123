package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Gossip: GossipConfig{
			Fanout:         3,
			Interval:       500 * time.Millisecond,
			TTL:            5,
			SuspectTimeout: 10 * time.Second,
			DeadTimeout:    30 * time.Second,
		},
		Consensus: ConsensusConfig{
			TotalNodes: 5,
		},
		Convergence: ConvergenceConfig{
			Threshold: 0.7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "valid config",
			mutate:    func(*Config) {},
			expectErr: false,
		},
		{
			name:      "invalid port",
			mutate:    func(c *Config) { c.Server.Port = -1 },
			expectErr: true,
		},
		{
			name:      "zero fanout",
			mutate:    func(c *Config) { c.Gossip.Fanout = 0 },
			expectErr: true,
		},
		{
			name:      "zero ttl",
			mutate:    func(c *Config) { c.Gossip.TTL = 0 },
			expectErr: true,
		},
		{
			name: "dead timeout not after suspect timeout",
			mutate: func(c *Config) {
				c.Gossip.SuspectTimeout = 30 * time.Second
				c.Gossip.DeadTimeout = 10 * time.Second
			},
			expectErr: true,
		},
		{
			name:      "threshold above one",
			mutate:    func(c *Config) { c.Convergence.Threshold = 1.5 },
			expectErr: true,
		},
		{
			name:      "threshold zero",
			mutate:    func(c *Config) { c.Convergence.Threshold = 0 },
			expectErr: true,
		},
		{
			name:      "threshold exactly one is allowed",
			mutate:    func(c *Config) { c.Convergence.Threshold = 1.0 },
			expectErr: false,
		},
		{
			name:      "zero total nodes",
			mutate:    func(c *Config) { c.Consensus.TotalNodes = 0 },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.expectErr {
				t.Errorf("Validate() error = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}
