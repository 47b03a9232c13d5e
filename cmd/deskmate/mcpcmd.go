package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deskmate/internal/config"
	"deskmate/internal/mcp"
)

// withManager loads config, builds a connected MCP manager, runs fn,
// and persists any server-list changes fn made.
func withManager(cmd *cobra.Command, connect bool, fn func(cfg *config.Config, m *mcp.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m := mcp.NewManager(cfg.MCP.Servers)
	defer m.Close()

	if connect {
		// Connection failures are reported per server by the
		// subcommands themselves.
		_ = m.ConnectAll(cmd.Context())
	}
	if err := fn(cfg, m); err != nil {
		return err
	}

	cfg.MCP.Servers = m.Configs()
	return config.Save(cfg)
}

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage external tool servers",
	}

	var argsFlag []string

	addCmd := &cobra.Command{
		Use:   "add <name> <command>",
		Short: "Register a tool server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, false, func(cfg *config.Config, m *mcp.Manager) error {
				err := m.Add(config.MCPServerConfig{
					Name:    args[0],
					Command: args[1],
					Args:    argsFlag,
					Enabled: true,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Added %s. It will connect on next chat start.\n", args[0])
				return nil
			})
		},
	}
	addCmd.Flags().StringSliceVar(&argsFlag, "arg", nil, "argument to pass to the server command (repeatable)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured tool servers",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, true, func(cfg *config.Config, m *mcp.Manager) error {
					statuses := m.List()
					if len(statuses) == 0 {
						fmt.Println("No tool servers configured.")
						return nil
					}
					for _, s := range statuses {
						state := describeStatus(s)
						fmt.Printf("%-20s %s\n", s.Name, state)
					}
					return nil
				})
			},
		},
		addCmd,
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a tool server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, false, func(cfg *config.Config, m *mcp.Manager) error {
					if err := m.Remove(args[0]); err != nil {
						return err
					}
					fmt.Println("Removed", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "enable <name>",
			Short: "Enable a tool server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, false, func(cfg *config.Config, m *mcp.Manager) error {
					if err := m.SetEnabled(args[0], true); err != nil {
						return err
					}
					fmt.Println("Enabled", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "disable <name>",
			Short: "Disable a tool server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, false, func(cfg *config.Config, m *mcp.Manager) error {
					if err := m.SetEnabled(args[0], false); err != nil {
						return err
					}
					fmt.Println("Disabled", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "diagnose <name>",
			Short: "Check a tool server's health",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, true, func(cfg *config.Config, m *mcp.Manager) error {
					report, err := m.Diagnose(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Println(report)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "retry <name>",
			Short: "Retry connecting to a tool server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, false, func(cfg *config.Config, m *mcp.Manager) error {
					if err := m.Retry(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Println("Connected", args[0])
					return nil
				})
			},
		},
	)

	return cmd
}

func describeStatus(s mcp.ServerStatus) string {
	switch {
	case !s.Enabled:
		return "disabled"
	case s.Connected:
		return fmt.Sprintf("connected, %d tools", s.Tools)
	case s.LastError != "":
		return "error: " + s.LastError
	default:
		return "not connected"
	}
}
