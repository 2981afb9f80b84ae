package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func toolsCmd() *cobra.Command {
	var (
		userID  string
		details bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Build the aggregated tool registry of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.hub.Tools(cmd.Context(), userID)
			if details {
				return printJSON(cmd, res)
			}
			for _, t := range res.Tools {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-6s %s\n", t.ID, t.SourceKind, t.SourceServerID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user whose stored servers are included (static servers only when empty)")
	cmd.Flags().BoolVar(&details, "details", false, "print the full registries as JSON")
	return cmd
}
