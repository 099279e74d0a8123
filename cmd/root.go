package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Replicant-Partners/Chrysalis-sub000/internal/config"
	"github.com/Replicant-Partners/Chrysalis-sub000/internal/server"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "swarmsync",
		Short: "Distributed state synchronization substrate for agent swarms",
		Long: `SwarmSync - A decentralized state synchronization node for agent
swarms. Replicated agent state converges through CRDT merges, spreads by
epidemic gossip, and commits shared decisions with Byzantine fault
tolerant voting.`,
		RunE: runServer,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
}

func Execute(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	return rootCmd.ExecuteContext(ctx)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config file if provided
	if configFile != "" {
		cfg.ConfigFile = configFile
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config from file %s: %w", configFile, err)
		}
	}

	// Create and start server
	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}
