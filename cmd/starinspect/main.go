// Command starinspect is the operator-facing diagnostic CLI for the STAR
// retrieval core: it opens a deployment's store, mirror, and embedder the
// same way a hosting process would, then exposes the engine's operations
// (search, ingest, rebuild, buckets, tags, quarantine, restore) as
// subcommands for manual inspection and corpus maintenance.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"starcore/internal/config"
	"starcore/internal/embedding"
	"starcore/internal/ingest"
	"starcore/internal/logging"
	"starcore/internal/mirror"
	"starcore/internal/retrieval"
	"starcore/internal/store"
	"starcore/internal/tagger"
)

var (
	// Global flags
	workspace  string
	configPath string
	verbose    bool

	// Shared handles, built once in rootCmd's PersistentPreRunE and torn
	// down in PersistentPostRun. Every subcommand uses these package-level
	// handles rather than opening its own copy.
	cfg    *config.Config
	idxDB  *store.Store
	mir    *mirror.Store
	orch   *ingest.Orchestrator
	engine *retrieval.Engine
)

var rootCmd = &cobra.Command{
	Use:   "starinspect",
	Short: "Diagnostic CLI for the STAR retrieval core",
	Long: `starinspect opens a STAR retrieval core deployment (its mirror tree and
SQLite index) and exposes search, ingestion, and corpus-maintenance
operations for manual inspection.

It speaks to the same internal/retrieval.Engine a hosting process embeds;
nothing here is a second implementation of the retrieval logic.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "starinspect" {
			return nil
		}

		ws := workspace
		if ws == "" {
			var err error
			ws, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}

		path := configPath
		if path == "" {
			path = filepath.Join(ws, "star.config.yaml")
		}
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			loaded.Logging.DebugMode = true
		}
		cfg = loaded

		idxDB, err = store.Open(filepath.Join(ws, cfg.Storage.IndexPath), store.Options{
			EmbeddingDim: cfg.Embedding.Dimensions,
			RequireVec:   cfg.Storage.RequireVecExt,
		})
		if err != nil {
			return fmt.Errorf("open index store: %w", err)
		}

		mir, err = mirror.Open(filepath.Join(ws, cfg.Storage.MirrorRoot))
		if err != nil {
			return fmt.Errorf("open mirror: %w", err)
		}

		embedder, err := embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
			Dimensions:     cfg.Embedding.Dimensions,
		})
		if err != nil {
			// An unreachable embedder degrades the CLI rather than failing it.
			fmt.Fprintf(os.Stderr, "warning: embedder unavailable, proceeding FTS/walker-only: %v\n", err)
			embedder = nil
		}

		orch = ingest.New(idxDB, mir, embedder, ingest.Options{
			TaggerSeeds: tagger.DefaultSeeds(),
		})
		engine = retrieval.New(cfg, idxDB, mir, orch, embedder, tagger.DefaultSeeds())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if idxDB != nil {
			_ = idxDB.Close()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Deployment directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: <workspace>/star.config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Set logging.debug_mode on the loaded config (file logging follows <workspace>/logging.json)")

	rootCmd.AddCommand(searchCmd, ingestCmd, resyncCmd, watchCmd, rebuildCmd,
		bucketsCmd, tagsCmd, quarantineCmd, restoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
