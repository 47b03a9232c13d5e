package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deskmate/internal/chat"
	"google.golang.org/genai"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved conversations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved sessions, most recent first",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := chat.NewStore()
				if err != nil {
					return err
				}
				infos, err := store.List()
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					fmt.Println("No saved sessions.")
					return nil
				}
				for _, info := range infos {
					fmt.Printf("%-10s %s  %3d messages  %s\n",
						shortID(info.ID),
						info.LastActive.Format("2006-01-02 15:04"),
						info.MessageCount,
						info.WorkDir)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a saved session transcript",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := chat.NewStore()
				if err != nil {
					return err
				}
				session, err := store.Load(args[0])
				if err != nil {
					return err
				}
				for _, content := range session.History() {
					printContent(content)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "resume <id>",
			Short: "Make a saved session the active one for the next chat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := chat.NewStore()
				if err != nil {
					return err
				}
				session, err := store.Load(args[0])
				if err != nil {
					return err
				}
				if err := store.SetCurrent(cliSurface, session.ID); err != nil {
					return err
				}
				fmt.Printf("Next chat resumes session %s (%d messages)\n",
					shortID(session.ID), session.MessageCount())
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a saved session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := chat.NewStore()
				if err != nil {
					return err
				}
				if err := store.Delete(args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted", args[0])
				return nil
			},
		},
	)

	return cmd
}

func printContent(content *genai.Content) {
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			fmt.Printf("[%s] -> %s\n", content.Role, part.FunctionCall.Name)
		case part.FunctionResponse != nil:
			fmt.Printf("[tool] %s\n", part.FunctionResponse.Name)
		case part.InlineData != nil:
			fmt.Printf("[%s] (image, %d bytes)\n", content.Role, len(part.InlineData.Data))
		case part.Text != "":
			fmt.Printf("[%s] %s\n", content.Role, part.Text)
		}
	}
}
