package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/attest"
)

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Worker attestation helpers",
}

var attestSignCmd = &cobra.Command{
	Use:   "sign <nonce>",
	Short: "Sign an attestation nonce with the worker secret",
	Long: `Sign an attestation nonce with the worker's shared secret. The
secret comes from --secret or ZULU_WORKER_SECRET. Workers run this to
answer a challenge from the attestation authority.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("ZULU_WORKER_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("worker secret required (--secret or ZULU_WORKER_SECRET)")
		}
		fmt.Println(attest.Signature(args[0], secret))
		return nil
	},
}

func init() {
	attestCmd.AddCommand(attestSignCmd)
	attestSignCmd.Flags().String("secret", "", "Worker shared secret")
}
