package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/executor/gateway"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
	"github.com/zuluhq/zulu/pkg/provider"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zulu",
	Short: "Zulu - autonomous task control plane",
	Long: `Zulu plans natural-language requests into task graphs, dispatches
them to constrained workers, and keeps the workers honest with a
policy-driven watchdog, worker attestation, and a hash-chained
audit log.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; real deployments set the environment directly
		_ = godotenv.Load()

		cfg := log.ConfigFromEnv()
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			cfg.Level = log.DebugLevel
		}
		if jsonOut, _ := cmd.Flags().GetBool("log-json"); jsonOut {
			cfg.JSONOutput = true
		}
		log.Init(cfg)
	},
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Zulu version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs instead of console output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(serveSandboxCmd)
	rootCmd.AddCommand(serveRunnerCmd)
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(attestCmd)
}

// buildBackend selects the dispatch backend by name. Both adapters satisfy
// the executor contract, so callers dispatch and close without caring which
// transport they got.
func buildBackend(name string) (executor.Executor, error) {
	switch name {
	case "openclaw":
		return executor.NewAdapter(), nil
	case "gateway":
		a, err := gateway.NewAdapter()
		if err != nil {
			return nil, fmt.Errorf("failed to build gateway adapter: %v", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (available: openclaw, gateway)", name)
	}
}

// execCredentials stamps the execution credentials that travel with each
// dispatched task. The planner's own key stays separate.
func execCredentials() executor.Credentials {
	name := os.Getenv("ZULU_EXEC_PROVIDER")
	if name == "" {
		name = "anthropic"
	}
	var key string
	if envKey := provider.KnownProviders[name]; envKey != "" {
		key = os.Getenv(envKey)
	}
	return executor.NewCredentials(key, name)
}

// startMetrics exposes /metrics and the probe endpoints on their own
// listener when an address is set
func startMetrics(addr string) {
	if addr == "" {
		return
	}
	metrics.SetVersion(Version)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server error", err)
		}
	}()
	fmt.Printf("✓ Metrics on http://%s/metrics\n", addr)
}
