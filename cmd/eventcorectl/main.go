package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventcorectl",
	Short: "Operator CLI for the eventcore append-only event store",
	Long: `eventcorectl opens an event store's data directory directly and runs
administrative operations against it: inspecting stream registrations,
forcing snapshots or compaction cycles, purging a tenant, and replaying raw
WAL contents.

It does not talk to a running eventcored process over the network — every
subcommand opens the data directory itself, so eventcored must not be
running against the same DATA_DIR at the same time.`,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "event store data directory (required)")
	rootCmd.MarkPersistentFlagRequired("data-dir")

	rootCmd.AddCommand(inspectStreamCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(purgeTenantCmd)
	rootCmd.AddCommand(replayWALCmd)
}
