package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aicore/internal/app"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			sessions, err := a.Sessions.List(cmd.Context(), sessionsLimit)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s  updated %s\n", s.ID, title, s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			messages, err := a.Sessions.History(cmd.Context(), args[0], 200)
			if err != nil {
				return fmt.Errorf("loading session history: %w", err)
			}
			if len(messages) == 0 {
				fmt.Println("session is empty or unknown")
				return nil
			}
			for _, m := range messages {
				fmt.Printf("[%s] %s\n\n", m.Role, m.Content)
			}
			return nil
		})
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			if err := a.Sessions.Clear(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}
			fmt.Println("session cleared")
			return nil
		})
	},
}

var sessionsMemoriesCmd = &cobra.Command{
	Use:   "memories <session-id> <query>",
	Short: "Search the memories recalled for a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			hits, err := a.Coordinator.SearchMemories(cmd.Context(), args[1], args[0], 10)
			if err != nil {
				return fmt.Errorf("searching memories: %w", err)
			}
			if len(hits) == 0 {
				fmt.Println("no memories matched")
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%.3f  %s\n", h.Score, h.Content)
			}
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "max sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsClearCmd, sessionsMemoriesCmd)
	rootCmd.AddCommand(sessionsCmd)
}
