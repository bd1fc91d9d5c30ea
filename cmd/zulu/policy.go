package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the watchdog policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current policy rules and fingerprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		policyPath, _ := cmd.Flags().GetString("policy")

		engine := policy.NewEngine(policyPath)
		fmt.Printf("Path: %s\n", policyPath)
		fmt.Printf("✓ Fingerprint: %s\n", engine.Fingerprint())

		workers := engine.Workers()
		sort.Strings(workers)
		fmt.Println("\nWorkers:")
		for _, name := range workers {
			wp, _ := engine.WorkerPolicy(name)
			attest := true
			if wp.RequireAttestation != nil {
				attest = *wp.RequireAttestation
			}
			fmt.Printf("  %s: runtime=%ds, cpu=%.0f%%, mem=%.0fMB, attest=%t\n",
				name, wp.MaxRuntimeSec, wp.MaxCPUPct, wp.MaxMemoryMB, attest)
		}

		global := engine.Global()
		fmt.Println("\nGlobal:")
		fmt.Printf("  max_concurrent_tasks: %d\n", global.MaxConcurrentTasks)
		fmt.Printf("  kill_on_violation: %t\n",
			global.KillOnViolation == nil || *global.KillOnViolation)
		fmt.Printf("  kill_unknown_workers: %t\n", global.KillUnknownWorkers)
		fmt.Printf("  audit_all_checks: %t\n", global.AuditAllChecks)
		if global.PolicyReloadInterval > 0 {
			fmt.Printf("  policy_reload_interval: %d\n", global.PolicyReloadInterval)
		}
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.PersistentFlags().String("policy", "/app/policy/policy.yaml", "Policy file path")
}
