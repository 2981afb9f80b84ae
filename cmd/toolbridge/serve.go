package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agent-toolbridge/internal/api"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Port = port
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			server := api.New(cfg, a.hub, a.metrics)

			// Handle graceful shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			go func() {
				<-quit
				a.logger.Info("shutting down server")
				if err := server.Shutdown(); err != nil {
					a.logger.Error("error during shutdown", "error", err)
				}
			}()

			a.logger.Info("starting agent toolbridge",
				"host", cfg.Host,
				"port", cfg.Port,
				"data_dir", cfg.DataDir,
				"static_mcp_servers", len(cfg.MCPServers),
				"static_a2a_agents", len(cfg.A2AAgents),
			)
			return server.Start()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override listen port")
	return cmd
}
