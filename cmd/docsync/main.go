package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/docsync/am"
	"github.com/teranos/docsync/cmd/docsync/commands"
	"github.com/teranos/docsync/logger"
)

var rootCmd = &cobra.Command{
	Use:   "docsync",
	Short: "docsync - replicated documents synced peer to peer",
	Long: `docsync keeps a key-value document replicated across machines.

Every replica stores its own change history and reconciles with peers
over WebSocket, exchanging only the changes the other side lacks.

Available commands:
  server - Serve the replica and sync with configured peers
  sync   - Reconcile with one or all peers now
  doc    - Read and edit the local document
  am     - Manage docsync configuration ("I am")

Examples:
  docsync server                          # Serve on server.port
  docsync doc set title "Draft"           # Edit the local replica
  docsync sync http://laptop.local:8770   # Reconcile with one peer
  docsync sync status                     # Show per-peer sync state`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")

		// Config errors surface in the command itself; here they only lose the log.json setting
		if cfg, err := am.Load(); err == nil && cfg.Log.JSON {
			jsonLogs = true
		}

		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DocCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.SyncCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
