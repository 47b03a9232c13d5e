package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deskmate/internal/trust"
)

func newFoldersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage authorized folders and their trust levels",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List authorized folders",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openTrustStore()
				if err != nil {
					return err
				}
				folders := store.Folders()
				if len(folders) == 0 {
					fmt.Println("No authorized folders.")
					return nil
				}
				for _, f := range folders {
					fmt.Printf("%-8s %s\n", f.Level, f.Path)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <path>",
			Short: "Authorize a folder at the standard trust level",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openTrustStore()
				if err != nil {
					return err
				}
				folder, err := store.AddFolder(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Authorized %s (trust: %s)\n", folder.Path, folder.Level)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <path>",
			Short: "Revoke a folder authorization",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openTrustStore()
				if err != nil {
					return err
				}
				if err := store.RemoveFolder(args[0]); err != nil {
					return err
				}
				fmt.Println("Removed", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-trust <path> <strict|standard|trust>",
			Short: "Change a folder's trust level",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openTrustStore()
				if err != nil {
					return err
				}
				level := trust.ParseLevel(args[1])
				if err := store.SetFolderLevel(args[0], level); err != nil {
					return err
				}
				fmt.Printf("Set %s to %s\n", args[0], level)
				return nil
			},
		},
	)

	return cmd
}
