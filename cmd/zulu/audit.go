package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the hash-chained audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain from genesis",
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _ := cmd.Flags().GetString("log")
		algo, _ := cmd.Flags().GetString("algo")

		ok, broken := audit.Verify(logPath, audit.Algo(algo))
		if !ok {
			return fmt.Errorf("audit chain broken at sequence %d", broken)
		}
		fmt.Printf("✓ Audit chain intact: %s\n", logPath)
		return nil
	},
}

var auditFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Emit a Merkle checkpoint for the records since the last one",
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _ := cmd.Flags().GetString("log")

		chain, err := audit.Open(logPath)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %v", err)
		}
		chain.FlushMerkle()
		fmt.Printf("✓ Checkpoint written (head %s, %d records)\n",
			chain.Head(), chain.Sequence())
		return nil
	},
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the last N audit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _ := cmd.Flags().GetString("log")
		n, _ := cmd.Flags().GetInt("lines")

		records, err := audit.Tail(logPath, n)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %v", err)
		}
		if len(records) == 0 {
			fmt.Printf("No audit records at %s\n", logPath)
			return nil
		}

		for _, r := range records {
			fmt.Printf("[%4v] %-30v %v #%s\n",
				r["seq"], r["event"], r["ts"], shortHash(r["hash"]))
			if details := recordDetails(r); len(details) > 0 {
				line, _ := json.Marshal(details)
				fmt.Printf("       %s\n", line)
			}
		}
		return nil
	},
}

var auditMerkleCmd = &cobra.Command{
	Use:   "merkle",
	Short: "Show Merkle checkpoint roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _ := cmd.Flags().GetString("log")

		checkpoints, err := audit.Checkpoints(logPath)
		if err != nil {
			return fmt.Errorf("failed to read checkpoints: %v", err)
		}
		if len(checkpoints) == 0 {
			fmt.Printf("No Merkle checkpoints at %s\n", audit.MerklePath(logPath))
			fmt.Println("Checkpoints are emitted periodically during operation.")
			return nil
		}

		for _, c := range checkpoints {
			fmt.Printf("◆ %s (%v events, seq %v-%v) %v\n",
				shortHash(c["merkle_root"]), c["event_count"],
				c["first_seq"], c["last_seq"], c["ts"])
		}
		return nil
	},
}

// shortHash truncates a record hash for display
func shortHash(v any) string {
	h, _ := v.(string)
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// recordDetails strips the chain bookkeeping fields, leaving the event payload
func recordDetails(r map[string]any) map[string]any {
	details := make(map[string]any)
	for k, v := range r {
		switch k {
		case "ts", "seq", "event", "hash", "prev_hash", "algo":
		default:
			details[k] = v
		}
	}
	return details
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditFlushCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditMerkleCmd)

	auditCmd.PersistentFlags().String("log", "/app/logs/watchdog-audit.jsonl", "Audit log path")
	auditVerifyCmd.Flags().String("algo", string(audit.DefaultAlgo), "Hash algorithm (blake3, sha256)")
	auditTailCmd.Flags().IntP("lines", "n", 20, "Number of records to show")
}
