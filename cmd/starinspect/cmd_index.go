package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from the mirror tree and republish the synonym ring",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		stats, err := engine.RebuildIndex(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d ingested=%d no_ops=%d failed=%d\n",
			stats.Scanned, stats.Ingested, stats.NoOps, stats.Failed)

		if err := engine.RebuildSynonymRing(); err != nil {
			return fmt.Errorf("rebuild synonym ring: %w", err)
		}
		fmt.Println("synonym ring rebuilt")
		return nil
	},
}
