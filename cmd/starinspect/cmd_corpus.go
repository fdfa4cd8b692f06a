package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var tagsBuckets []string

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List every distinct bucket currently in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		buckets, err := engine.ListBuckets()
		if err != nil {
			return err
		}
		sort.Strings(buckets)
		fmt.Println(strings.Join(buckets, "\n"))
		return nil
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List every distinct tag in the corpus, or in --buckets",
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, err := engine.ListTags(tagsBuckets)
		if err != nil {
			return err
		}
		sort.Strings(tags)
		fmt.Println(strings.Join(tags, "\n"))
		return nil
	},
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine [molecule-id]",
	Short: "Quarantine a molecule so it stops surfacing in search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return engine.Quarantine(args[0])
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [molecule-id]",
	Short: "Reverse a previous quarantine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return engine.Restore(args[0])
	},
}

func init() {
	tagsCmd.Flags().StringSliceVar(&tagsBuckets, "buckets", nil, "Restrict to tags used in these buckets")
}
