package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aicore/internal/app"
)

var (
	enqueuePriority string
	enqueueWait     bool
	dlqLimit        int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the task queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth, claimed count and DLQ size",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			stats, err := a.Queue.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading queue stats: %w", err)
			}
			fmt.Printf("queued:  %d\nclaimed: %d\ndlq:     %d\n",
				stats.QueueLength, stats.Claimed, stats.DLQLength)
			return nil
		})
	},
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <type> <payload-json>",
	Short: "Enqueue a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			var payload json.RawMessage
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fmt.Errorf("payload must be valid JSON: %w", err)
			}

			taskID, err := a.Queue.Enqueue(cmd.Context(), args[0], payload, enqueuePriority)
			if err != nil {
				return fmt.Errorf("enqueuing task: %w", err)
			}
			fmt.Println(taskID)

			if !enqueueWait {
				return nil
			}
			result, err := a.Queue.WaitForResult(cmd.Context(), taskID, 2*time.Minute)
			if err != nil {
				return fmt.Errorf("waiting for result: %w", err)
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
			fmt.Println(string(out))
			return nil
		})
	},
}

var queueDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage dead-lettered tasks",
}

var queueDLQListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			entries, err := a.Queue.DLQTasks(cmd.Context(), dlqLimit)
			if err != nil {
				return fmt.Errorf("listing DLQ: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("dead letter queue is empty")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s  type=%s retries=%d failed=%s\n  error: %s\n",
					e.EntryID, e.Task.ID, e.Task.Type, e.Task.RetryCount,
					e.FailedAt.Format(time.RFC3339), e.LastError)
			}
			return nil
		})
	},
}

var queueDLQReprocessCmd = &cobra.Command{
	Use:   "reprocess <entry-id>",
	Short: "Re-enqueue a dead-lettered task with a fresh retry budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			taskID, err := a.Queue.ReprocessDLQ(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("reprocessing DLQ entry: %w", err)
			}
			fmt.Printf("requeued as %s\n", taskID)
			return nil
		})
	},
}

var queueDLQPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead-lettered tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			n, err := a.Queue.PurgeDLQ(cmd.Context())
			if err != nil {
				return fmt.Errorf("purging DLQ: %w", err)
			}
			fmt.Printf("purged %d entries\n", n)
			return nil
		})
	},
}

func init() {
	queueEnqueueCmd.Flags().StringVar(&enqueuePriority, "priority", "normal", "task priority")
	queueEnqueueCmd.Flags().BoolVar(&enqueueWait, "wait", false, "wait for the task result")
	queueDLQListCmd.Flags().IntVar(&dlqLimit, "limit", 10, "max entries to list")

	queueDLQCmd.AddCommand(queueDLQListCmd, queueDLQReprocessCmd, queueDLQPurgeCmd)
	queueCmd.AddCommand(queueStatsCmd, queueEnqueueCmd, queueDLQCmd)
	rootCmd.AddCommand(queueCmd)
}

// withApp sets up the application, runs fn and tears everything down.
func withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Setup(cmd.Context(), cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		_ = a.Close()
	}()
	return fn(a)
}
