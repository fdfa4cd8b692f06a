package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"starcore/internal/config"
	"starcore/internal/retrieval"
)

var (
	searchBuckets    []string
	searchTags       []string
	searchDeep       bool
	searchRecallMode string
	searchMaxChars   int
	searchCodeWeight float64
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a search() query against the retrieval core and print its context window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		resp, err := engine.Search(ctx, args[0], retrieval.Options{
			Buckets:    searchBuckets,
			Tags:       searchTags,
			Deep:       searchDeep,
			MaxChars:   searchMaxChars,
			CodeWeight: searchCodeWeight,
			RecallMode: config.RecallMode(searchRecallMode),
		})
		if err != nil {
			return err
		}

		fmt.Printf("strategy=%s status=%s results=%d\n", resp.Strategy, resp.Status, len(resp.Results))
		if warnings, ok := resp.Metadata["warnings"].([]string); ok && len(warnings) > 0 {
			fmt.Printf("warnings: %s\n", strings.Join(warnings, "; "))
		}
		fmt.Println(strings.Repeat("-", 72))
		for _, r := range resp.Results {
			fmt.Printf("[%s] molecule=%s compound=%s gravity=%.4f provenance=%s\n",
				r.Class, r.MoleculeID, r.CompoundID, r.Gravity, r.Provenance)
		}
		fmt.Println(strings.Repeat("-", 72))
		fmt.Println(resp.Context)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchBuckets, "buckets", nil, "Restrict to these buckets")
	searchCmd.Flags().StringSliceVar(&searchTags, "tags", nil, "Restrict to molecules carrying these tags")
	searchCmd.Flags().BoolVar(&searchDeep, "deep", false, "Force maximum recall mode")
	searchCmd.Flags().StringVar(&searchRecallMode, "recall-mode", "", "maximum, balanced, or focused (default: configured)")
	searchCmd.Flags().IntVar(&searchMaxChars, "max-chars", 0, "Override the context char budget")
	searchCmd.Flags().Float64Var(&searchCodeWeight, "code-weight", 0, "Override the code-vs-prose scoring weight")
}
