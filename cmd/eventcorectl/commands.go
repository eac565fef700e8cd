package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/engine"
	"github.com/cuemby/eventcore/pkg/wal"
)

// openEngine opens the event store at the --data-dir flag's path without
// starting any background loop: every subcommand here is a one-shot
// operation, so there is nothing for a checkpoint ticker or compactor loop
// to do before the process exits anyway.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg := config.Default(dataDir)
	return engine.Open(cfg, engine.Options{})
}

var inspectStreamCmd = &cobra.Command{
	Use:   "inspect-stream STREAM_ID",
	Short: "Show a stream's registry metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		defer e.Close()

		meta, ok := e.InspectStream(args[0])
		if !ok {
			return fmt.Errorf("stream %q not found", args[0])
		}

		fmt.Printf("Stream: %s\n", args[0])
		fmt.Printf("  Tenant:          %s\n", meta.TenantID)
		fmt.Printf("  Partition:       %d\n", meta.PartitionID)
		fmt.Printf("  Current version: %d\n", meta.CurrentVersion)
		fmt.Printf("  Watermark:       %d\n", meta.Watermark)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run one compaction cycle synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		defer e.Close()

		if err := e.Compact(); err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		fmt.Println("✓ compaction cycle complete")
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot TENANT_ID ENTITY_ID",
	Short: "Force a fresh snapshot for one entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projection, _ := cmd.Flags().GetString("projection")

		e, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		defer e.Close()

		snap, err := e.SnapshotNow(args[0], args[1], projection)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		fmt.Printf("✓ snapshot taken: version_covered=%d timestamp_micros=%d\n", snap.VersionCovered, snap.TimestampMicros)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().String("projection", "", "named projection to snapshot (default: identity latest-payload)")
}

var purgeTenantCmd = &cobra.Command{
	Use:   "purge-tenant TENANT_ID",
	Short: "Permanently delete every event, stream, and counter for a tenant",
	Long: `purge-tenant hard-deletes everything belonging to TENANT_ID: index
entries, columnar files, registry registrations, quota/usage counters, and
snapshots. There is no undo; run this only for compliance/offboarding
workflows with the tenant's event stream already quiesced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("yes")
		if !confirm {
			return fmt.Errorf("refusing to purge tenant %q without --yes", args[0])
		}

		e, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		defer e.Close()

		if err := e.PurgeTenant(args[0]); err != nil {
			return fmt.Errorf("purge tenant: %w", err)
		}
		fmt.Printf("✓ tenant %q purged\n", args[0])
		return nil
	},
}

func init() {
	purgeTenantCmd.Flags().Bool("yes", false, "confirm the irreversible purge")
}

var replayWALCmd = &cobra.Command{
	Use:   "replay-wal",
	Short: "Stream raw WAL frames from a partition, for operator inspection",
	RunE: func(cmd *cobra.Command, args []string) error {
		partition, _ := cmd.Flags().GetInt("partition")
		fromLSN, _ := cmd.Flags().GetInt64("from-lsn")

		e, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		defer e.Close()

		count := 0
		err = e.ReplayWAL(context.Background(), partition, fromLSN, func(lsn int64, f wal.Frame) bool {
			fmt.Printf("lsn=%d stream=%s version=%d event_id=%s\n", lsn, f.StreamID, f.Version, f.Event.ID)
			count++
			return true
		})
		if err != nil {
			return fmt.Errorf("replay wal: %w", err)
		}
		fmt.Printf("✓ replayed %d frames from partition %d\n", count, partition)
		return nil
	},
}

func init() {
	replayWALCmd.Flags().Int("partition", 0, "WAL partition to replay")
	replayWALCmd.Flags().Int64("from-lsn", 0, "first LSN to include")
}
