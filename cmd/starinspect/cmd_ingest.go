package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a single file through the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		result, err := orch.IngestFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("compound=%s state=%s molecules=%d\n", result.CompoundID, result.State, result.MoleculeCount)
		return nil
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync [dir]",
	Short: "Bulk re-sync a source directory tree into the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		stats, err := orch.BulkResync(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d ingested=%d no_ops=%d failed=%d\n",
			stats.Scanned, stats.Ingested, stats.NoOps, stats.Failed)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and ingest files as they change (runs until interrupted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return orch.Watch(cmd.Context(), args[0])
	},
}
