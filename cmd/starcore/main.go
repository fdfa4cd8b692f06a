// Command starcore is the thin wiring binary a hosting process embeds:
// load config, open the index store and mirror, rebuild the index from
// the mirror tree if it's empty, then run exactly one search or one
// ingest and exit. It holds no long-running server loop — that belongs
// to whatever host process links internal/retrieval directly.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

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
	workspace  string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "starcore",
	Short: "One-shot search/ingest wiring for the STAR retrieval core",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Deployment directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: <workspace>/star.config.yaml)")
	rootCmd.AddCommand(searchCmd, ingestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap opens the store, mirror, embedder, orchestrator, and engine
// the same way any hosting process would, rebuilding the index from the
// mirror tree when the store is empty: the index is disposable
// and always reconstructible from the mirror's owned bytes.
func bootstrap(ctx context.Context) (*retrieval.Engine, *ingest.Orchestrator, func(), error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve workspace: %w", err)
		}
	}
	if err := logging.Initialize(ws); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
	}

	path := configPath
	if path == "" {
		path = filepath.Join(ws, "star.config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	idxDB, err := store.Open(filepath.Join(ws, cfg.Storage.IndexPath), store.Options{
		EmbeddingDim: cfg.Embedding.Dimensions,
		RequireVec:   cfg.Storage.RequireVecExt,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open index store: %w", err)
	}
	teardown := func() {
		_ = idxDB.Close()
		logging.CloseAll()
	}

	mir, err := mirror.Open(filepath.Join(ws, cfg.Storage.MirrorRoot))
	if err != nil {
		teardown()
		return nil, nil, nil, fmt.Errorf("open mirror: %w", err)
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
		// An unreachable embedder degrades the run rather than failing it.
		fmt.Fprintf(os.Stderr, "warning: embedder unavailable, proceeding FTS/walker-only: %v\n", err)
		embedder = nil
	}

	seeds := tagger.DefaultSeeds()
	orch := ingest.New(idxDB, mir, embedder, ingest.Options{TaggerSeeds: seeds})
	eng := retrieval.New(cfg, idxDB, mir, orch, embedder, seeds)

	stats, err := idxDB.Stats()
	if err == nil && stats["compounds"] == 0 {
		if _, err := eng.RebuildIndex(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: startup rebuild from mirror failed: %v\n", err)
		} else if err := eng.RebuildSynonymRing(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: synonym ring build failed: %v\n", err)
		}
	}

	return eng, orch, teardown, nil
}

var searchQueryBuckets []string
var searchQueryMaxChars int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a single search() and print its context window to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		eng, _, teardown, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer teardown()

		resp, err := eng.Search(ctx, args[0], retrieval.Options{
			Buckets:  searchQueryBuckets,
			MaxChars: searchQueryMaxChars,
		})
		if err != nil {
			return err
		}
		fmt.Printf("strategy=%s status=%s results=%d\n", resp.Strategy, resp.Status, len(resp.Results))
		fmt.Println(strings.Repeat("-", 72))
		fmt.Println(resp.Context)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a single file through the pipeline and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		_, orch, teardown, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer teardown()

		result, err := orch.IngestFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("compound=%s state=%s molecules=%d\n", result.CompoundID, result.State, result.MoleculeCount)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchQueryBuckets, "buckets", nil, "Restrict to these buckets")
	searchCmd.Flags().IntVar(&searchQueryMaxChars, "max-chars", 0, "Override the context char budget")
}
