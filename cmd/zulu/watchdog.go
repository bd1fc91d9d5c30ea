package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/audit"
	"github.com/zuluhq/zulu/pkg/metrics"
	"github.com/zuluhq/zulu/pkg/policy"
	"github.com/zuluhq/zulu/pkg/runtime"
	"github.com/zuluhq/zulu/pkg/watchdog"
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Monitor worker containers and enforce resource policy",
	Long: `Monitor the worker containers through containerd, enforce the
memory, CPU, and runtime ceilings from the policy file, and append
every observation to the hash-chained audit log. The policy file is
hot-reloaded while the watchdog runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := watchdog.ConfigFromEnv()
		if v, _ := cmd.Flags().GetString("policy"); v != "" {
			cfg.PolicyPath = v
		}
		if v, _ := cmd.Flags().GetString("audit-log"); v != "" {
			cfg.AuditLogPath = v
		}
		if v, _ := cmd.Flags().GetStringSlice("container"); len(v) > 0 {
			cfg.Containers = v
		}
		socket, _ := cmd.Flags().GetString("containerd-socket")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		chain, err := audit.Open(cfg.AuditLogPath)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %v", err)
		}
		metrics.RegisterComponent("audit", true, "")

		engine := policy.NewEngine(cfg.PolicyPath)
		metrics.RegisterComponent("policy", true, "")

		rt, err := runtime.New(socket)
		if err != nil {
			return fmt.Errorf("failed to connect to containerd: %v", err)
		}
		defer rt.Close()
		metrics.RegisterComponent("executor", true, "containerd connected")

		startMetrics(metricsAddr)

		w := watchdog.New(cfg, chain, engine, rt)
		fmt.Printf("✓ Watchdog monitoring %v every %s\n",
			cfg.Containers, cfg.CheckInterval)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down watchdog...")
			cancel()
			return <-errCh
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	watchdogCmd.Flags().String("policy", "", "Policy file path (overrides environment)")
	watchdogCmd.Flags().String("audit-log", "", "Audit log path (overrides environment)")
	watchdogCmd.Flags().StringSlice("container", nil, "Container to monitor (repeatable, overrides environment)")
	watchdogCmd.Flags().String("containerd-socket", runtime.DefaultSocketPath, "Containerd socket path")
	watchdogCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address")
}
