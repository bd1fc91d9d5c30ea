package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/metrics"
	"github.com/zuluhq/zulu/pkg/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the night-shift task queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <prompt>",
	Short: "Queue a task for the next quiet-hours run",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetInt("priority")
		scheduledFor, _ := cmd.Flags().GetString("scheduled-for")
		domains, _ := cmd.Flags().GetStringSlice("domain")
		prompt := strings.Join(args, " ")

		q, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer q.Close()

		var taskCtx map[string]any
		if len(domains) > 0 {
			taskCtx = map[string]any{"domains": domains}
		}

		id, err := q.Add(executor.TaskType(taskType), prompt, priority, scheduledFor, taskCtx)
		if err != nil {
			return fmt.Errorf("failed to queue task: %v", err)
		}
		fmt.Printf("✓ Queued task %d (%s, priority %d)\n", id, taskType, priority)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending tasks and queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		q, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer q.Close()

		counts, err := q.CountByStatus()
		if err != nil {
			return fmt.Errorf("failed to count tasks: %v", err)
		}
		fmt.Printf("Queue: %d pending, %d running, %d completed, %d failed\n\n",
			counts[store.StatusPending], counts[store.StatusRunning],
			counts[store.StatusCompleted], counts[store.StatusFailed])

		tasks, err := q.Pending(limit)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %v", err)
		}
		for _, task := range tasks {
			fmt.Printf("  %d  %-20s  priority %d  %s\n",
				task.ID, task.TaskType, task.Priority, truncatePrompt(task.Prompt))
		}
		return nil
	},
}

var queueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process due tasks, once or as a quiet-hours daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		daemon, _ := cmd.Flags().GetBool("daemon")
		backendName, _ := cmd.Flags().GetString("backend")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := store.DispatcherConfigFromEnv()
		if v, _ := cmd.Flags().GetString("db"); v != "" {
			cfg.DBPath = v
		}
		if v, _ := cmd.Flags().GetString("report-dir"); v != "" {
			cfg.ReportDir = v
		}

		q, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open queue: %v", err)
		}
		defer q.Close()

		backend, err := buildBackend(backendName)
		if err != nil {
			return err
		}
		defer backend.Close()

		startMetrics(metricsAddr)
		collector := metrics.NewCollector(q)
		collector.Start()
		defer collector.Stop()

		d := store.NewDispatcher(cfg, q, backend, execCredentials())

		if daemon {
			fmt.Printf("✓ Night-shift dispatcher running (quiet hours %d-%d)\n",
				cfg.QuietStart, cfg.QuietEnd)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- d.RunDaemon(ctx)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sigCh:
				fmt.Println("\nShutting down dispatcher...")
				cancel()
				return <-errCh
			case err := <-errCh:
				return err
			}
		}

		summary, err := d.RunOnce(context.Background(), force)
		if err != nil {
			return err
		}
		if summary.Skipped {
			fmt.Printf("Skipped: %s (use --force to run anyway)\n", summary.Reason)
			return nil
		}
		fmt.Printf("✓ Processed %d tasks: %d completed, %d failed\n",
			summary.TotalTasks, summary.Completed, summary.Failed)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRunCmd)

	queueCmd.PersistentFlags().String("db", "", "Queue database path (overrides environment)")

	queueAddCmd.Flags().String("type", string(executor.TaskWebResearch), "Task type")
	queueAddCmd.Flags().Int("priority", 0, "Task priority (higher runs first)")
	queueAddCmd.Flags().String("scheduled-for", "", "Earliest run time (RFC3339)")
	queueAddCmd.Flags().StringSlice("domain", nil, "Allowed domain (repeatable)")

	queueListCmd.Flags().Int("limit", 20, "Maximum tasks to list")

	queueRunCmd.Flags().Bool("force", false, "Run even outside quiet hours")
	queueRunCmd.Flags().Bool("daemon", false, "Keep running on the check interval")
	queueRunCmd.Flags().String("backend", "openclaw", "Dispatch backend (openclaw, gateway)")
	queueRunCmd.Flags().String("report-dir", "", "Report directory (overrides environment)")
	queueRunCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address")
}

func openQueue(cmd *cobra.Command) (*store.Queue, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = store.DispatcherConfigFromEnv().DBPath
	}
	q, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %v", err)
	}
	return q, nil
}

func truncatePrompt(s string) string {
	if len(s) <= 60 {
		return s
	}
	return s[:57] + "..."
}
