package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/executor/runner"
	"github.com/zuluhq/zulu/pkg/executor/sandbox"
)

var serveSandboxCmd = &cobra.Command{
	Use:   "serve-sandbox",
	Short: "Run the constrained sandbox worker",
	Long: `Run the sandbox worker: POST /task and GET /health. The worker
executes one task at a time within its step and duration ceilings and
wipes its workspace between tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := sandbox.ServerConfigFromEnv()
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.ListenPort = port
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		startMetrics(metricsAddr)

		srv := sandbox.NewServer(cfg)
		fmt.Printf("✓ Sandbox worker listening on :%d\n", cfg.ListenPort)
		return serveUntilSignal(srv.ListenAndServe)
	},
}

var serveRunnerCmd = &cobra.Command{
	Use:   "serve-runner",
	Short: "Run the scoped task runner",
	Long: `Run the scoped runner: POST /task and GET /health. The runner
handles a fixed set of task types (web fetch, summarize, transform,
ping) and rejects everything else.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := runner.ConfigFromEnv()
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.ListenPort = port
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		startMetrics(metricsAddr)

		srv := runner.NewServer(cfg)
		fmt.Printf("✓ Runner listening on :%d\n", cfg.ListenPort)
		return serveUntilSignal(srv.ListenAndServe)
	},
}

func init() {
	serveSandboxCmd.Flags().Int("port", 0, "Listen port (overrides environment)")
	serveSandboxCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address")
	serveRunnerCmd.Flags().Int("port", 0, "Listen port (overrides environment)")
	serveRunnerCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address")
}

// serveUntilSignal runs a blocking server and returns on SIGINT/SIGTERM
// or on server failure
func serveUntilSignal(serve func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
		return nil
	case err := <-errCh:
		return err
	}
}
