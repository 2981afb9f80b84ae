package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agent-toolbridge/internal/a2a"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/mcp"
	"agent-toolbridge/internal/probe"
)

type probeFlags struct {
	Name    string
	Headers map[string]string
	Timeout time.Duration
}

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one connection cycle against a remote server",
	}
	cmd.AddCommand(probeMCPCmd())
	cmd.AddCommand(probeA2ACmd())
	return cmd
}

func (f *probeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (defaults to the endpoint host)")
	cmd.Flags().StringToStringVar(&f.Headers, "header", nil, "header sent on every request, as name=value (repeatable)")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 10*time.Second, "connection timeout")
}

// server builds and validates the configuration of the probed endpoint.
func (f *probeFlags) server(kind config.Kind, endpoint string) (config.ServerConfig, error) {
	name := f.Name
	if name == "" {
		if u, err := url.Parse(endpoint); err == nil && u.Hostname() != "" {
			name = strings.ReplaceAll(u.Hostname(), ".", "_")
		}
	}
	srv := config.ServerConfig{Kind: kind, Name: name, Endpoint: endpoint, Headers: f.Headers, IsActive: true}
	if err := srv.Validate(); err != nil {
		return srv, err
	}
	return srv, nil
}

type probeResult struct {
	Server config.ServerConfig `json:"server"`
	Status probe.Status        `json:"status"`
	Tools  any                 `json:"tools,omitempty"`
	Card   any                 `json:"agentCard,omitempty"`
}

func probeMCPCmd() *cobra.Command {
	var f probeFlags
	cmd := &cobra.Command{
		Use:   "mcp <url>",
		Short: "Connect to an MCP server and list its tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := f.server(config.KindMCP, args[0])
			if err != nil {
				return err
			}

			client := mcp.NewHTTPClient(srv, mcp.ClientOptions{ConnectTimeout: f.Timeout})
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), f.Timeout)
			defer cancel()

			ok := client.Init(ctx)
			res := probeResult{Server: srv.Redacted(), Status: client.Status()}
			if ok {
				res.Tools = client.ToolList()
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("mcp server %s is not ready", srv.Name)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func probeA2ACmd() *cobra.Command {
	var f probeFlags
	cmd := &cobra.Command{
		Use:   "a2a <url>",
		Short: "Fetch the card of an A2A agent and prepare its transport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := f.server(config.KindA2A, args[0])
			if err != nil {
				return err
			}

			client := a2a.NewClient(srv, a2a.ClientOptions{ConnectTimeout: f.Timeout})
			defer client.Close()

			ok := client.Init(cmd.Context())
			res := probeResult{Server: srv.Redacted(), Status: client.Status()}
			if ok {
				res.Card = client.AgentCard()
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("a2a agent %s is not ready", srv.Name)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
