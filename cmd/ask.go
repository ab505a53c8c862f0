package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aicore/internal/agent"
	"aicore/internal/app"
)

var (
	askSession string
	askMode    string
	askStream  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the agent a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session ID for conversation continuity")
	askCmd.Flags().StringVar(&askMode, "mode", "default", "agent mode (default, research, coding, terminal)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "stream the response as it is produced")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: shutdown: %v\n", err)
		}
	}()

	identity := askSession
	if identity == "" {
		identity = "cli"
	}
	decision, err := a.Limiter.Allow(ctx, identity)
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if !decision.Allowed {
		return fmt.Errorf("rate limit exceeded, retry in %s", decision.RetryAfter.Round(time.Second))
	}

	question := strings.Join(args, " ")
	opts := agent.RunOptions{
		SessionID: askSession,
		Mode:      agent.Mode(askMode),
	}

	if askStream {
		return streamAnswer(ctx, a, question, opts)
	}

	result, err := a.Coordinator.Run(ctx, question, opts)
	if err != nil {
		return fmt.Errorf("running agent: %w", err)
	}

	fmt.Println(result.Content)
	if askSession == "" && len(result.SessionID) > 0 {
		fmt.Fprintf(os.Stderr, "\n(session: %s)\n", result.SessionID)
	}
	return nil
}

func streamAnswer(ctx context.Context, a *app.App, question string, opts agent.RunOptions) error {
	for ev := range a.Coordinator.Stream(ctx, question, opts) {
		switch ev.Type {
		case agent.EventText:
			fmt.Print(ev.Text)
		case agent.EventToolStart:
			fmt.Fprintf(os.Stderr, "[tool %s started]\n", ev.ToolName)
		case agent.EventToolEnd:
			fmt.Fprintf(os.Stderr, "[tool %s finished]\n", ev.ToolName)
		case agent.EventToolError:
			fmt.Fprintf(os.Stderr, "[tool %s failed: %s]\n", ev.ToolName, ev.Text)
		case agent.EventDone:
			fmt.Println()
		case agent.EventError:
			return fmt.Errorf("running agent: %w", ev.Err)
		}
	}
	return nil
}
