package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"agent-toolbridge/internal/builtin"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/hub"
	"agent-toolbridge/internal/metrics"
	"agent-toolbridge/internal/storage"
)

type rootFlags struct {
	ConfigPath string
}

var rf rootFlags

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "toolbridge",
		Short:        "Bridge MCP servers and A2A agents into one tool registry",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&rf.ConfigPath, "config", "config/toolbridge.yaml", "path to configuration file")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(probeCmd())
	cmd.AddCommand(toolsCmd())
	return cmd
}

// loadConfig reads the configuration file. A missing default file falls
// back to defaults plus the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(rf.ConfigPath)
	if err == nil {
		return cfg, nil
	}
	if cmd.Flags().Changed("config") {
		return nil, err
	}
	if _, statErr := os.Stat(rf.ConfigPath); statErr == nil {
		return nil, err
	}
	return config.FromEnv()
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.Storage
	metrics *metrics.Metrics
	hub     *hub.Hub
}

// newApp wires the storage, built-in tools and hub described by cfg.
func newApp(cfg *config.Config) (*app, error) {
	logger := cfg.Logger()
	slog.SetDefault(logger)

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	builtins, err := builtin.Default(cfg.Weather, nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register built-in tools: %w", err)
	}

	m := metrics.New()
	h := hub.New(store, hub.Options{
		Builtins: builtins,
		Static: map[config.Kind][]config.ServerConfig{
			config.KindMCP: cfg.MCPServers,
			config.KindA2A: cfg.A2AAgents,
		},
		ConnectTimeout:   cfg.ConnectTimeout,
		CallTimeout:      cfg.CallTimeout,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		Metrics:          m,
		Logger:           logger,
	})

	return &app{cfg: cfg, logger: logger, store: store, metrics: m, hub: h}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
