package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage standing tool permissions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List standing permissions",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openTrustStore()
				if err != nil {
					return err
				}
				perms := store.Permissions()
				if len(perms) == 0 {
					fmt.Println("No standing permissions.")
					return nil
				}
				for _, p := range perms {
					fmt.Printf("%-14s %-30s granted %s\n", p.Tool, p.PathPattern, p.GrantedAt.Format("2006-01-02"))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "revoke <tool> <path-pattern>",
			Short: "Revoke one standing permission",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openTrustStore()
				if err != nil {
					return err
				}
				if err := store.Revoke(args[0], args[1]); err != nil {
					return err
				}
				fmt.Println("Revoked.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Revoke all standing permissions",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openTrustStore()
				if err != nil {
					return err
				}
				store.ClearPermissions()
				fmt.Println("All standing permissions revoked.")
				return nil
			},
		},
	)

	return cmd
}
