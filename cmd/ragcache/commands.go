package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/ragcache/internal/profile"
	"github.com/hrygo/ragcache/plugin/ai"
	aicache "github.com/hrygo/ragcache/plugin/ai/cache"
	"github.com/hrygo/ragcache/plugin/ai/query"
	"github.com/hrygo/ragcache/server/retrieval"
	storecache "github.com/hrygo/ragcache/store/cache"
)

func newNormalizeCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "normalize <query>",
		Short: "Print the canonical form of a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := query.NewNormalizer(nil, prof.MaxVariants)
			q := n.Normalize(strings.Join(args, " "))
			return printJSON(cmd, map[string]any{
				"raw":        q.Raw,
				"normalized": q.Normalized,
				"tokens":     q.Tokens,
				"expanded":   q.Expanded,
				"variants":   q.Variants,
				"localKey":   aicache.Key(q.Normalized, strategy),
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", aicache.StrategyStandard, "strategy tag for the in-process key")
	return cmd
}

func newVariantsCmd() *cobra.Command {
	var maxVariants int
	cmd := &cobra.Command{
		Use:   "variants <query>",
		Short: "Print alternate phrasings of a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxVariants <= 0 {
				maxVariants = prof.MaxVariants
			}
			return printJSON(cmd, query.GenerateVariants(strings.Join(args, " "), maxVariants))
		},
	}
	cmd.Flags().IntVar(&maxVariants, "max", 0, "number of variants (default from profile)")
	return cmd
}

func newSimilarityCmd() *cobra.Command {
	var useEmbeddings bool
	cmd := &cobra.Command{
		Use:   "similarity <query-a> <query-b>",
		Short: "Compare two queries by token overlap, and optionally by embedding cosine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b := query.Normalize(args[0]), query.Normalize(args[1])
			out := map[string]any{
				"jaccard":   query.Jaccard(a.Tokens, b.Tokens),
				"threshold": prof.SimilarityThreshold,
			}

			if useEmbeddings {
				svc, err := newEmbeddingService(prof)
				if err != nil {
					return err
				}
				vecs, err := svc.EmbedQueries(cmd.Context(), []string{args[0], args[1]})
				if err != nil {
					return err
				}
				cos, err := ai.CosineSimilarity(vecs[0], vecs[1])
				if err != nil {
					return err
				}
				out["cosine"] = cos
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&useEmbeddings, "embed", false, "also compare query embeddings")
	return cmd
}

func newEmbedCmd() *cobra.Command {
	var document bool
	cmd := &cobra.Command{
		Use:   "embed <text>",
		Short: "Embed text as a retrieval query or document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newEmbeddingService(prof)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			taskType := ai.TaskTypeRetrievalQuery
			embed := svc.EmbedQuery
			if document {
				taskType = ai.TaskTypeRetrievalDocument
				embed = svc.EmbedDocument
			}

			vec, err := embed(cmd.Context(), text)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"model":      svc.Model(),
				"taskType":   taskType,
				"dimensions": len(vec),
				"vector":     vec,
			})
		},
	}
	cmd.Flags().BoolVar(&document, "document", false, "embed as a document instead of a query")
	return cmd
}

func newInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [prefix]",
		Short: "Remove durable entries, all of them by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !prof.IsRemoteEnabled() {
				return errors.New("no durable store configured, set RAGCACHE_REMOTE_ADDR")
			}
			pattern := storecache.InvalidateAll
			if len(args) == 1 {
				pattern = args[0]
			}

			durable := storecache.OpenDurableCache[json.RawMessage](cmd.Context(), prof)
			defer durable.Close()

			removed, err := durable.Invalidate(cmd.Context(), pattern)
			if perr := printJSON(cmd, map[string]any{"pattern": pattern, "removed": removed}); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report durable tier availability and key count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			durable := storecache.OpenDurableCache[json.RawMessage](cmd.Context(), prof)
			defer durable.Close()

			return printJSON(cmd, map[string]any{
				"enabled":   durable.Enabled(),
				"namespace": durable.Namespace(),
				"durable":   durable.Stats(cmd.Context()),
			})
		},
	}
}

// replayAnswer stands in for a pipeline result during a replay.
type replayAnswer struct {
	Query    string    `json:"query"`
	Strategy string    `json:"strategy"`
	At       time.Time `json:"at"`
}

func newReplayCmd() *cobra.Command {
	var (
		strategy string
		tenant   string
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Replay a query log through both cache tiers and report hit rates",
		Long: `replay reads one query per line (stdin when no file is given) and answers
each through the in-process and durable tiers. Misses are filled by a stub
pipeline that sleeps for --pipeline-delay, so the report shows how often a
real pipeline would have been avoided.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrap(err, "open query log")
				}
				defer f.Close()
				in = f
			}

			local := aicache.NewSemanticCache[replayAnswer](localConfig(prof))
			pruner := aicache.NewPruner(local, prof.PruneInterval)
			pruner.Start()
			defer pruner.Close()

			durable := storecache.OpenDurableCache[replayAnswer](cmd.Context(), prof)
			defer durable.Close()

			pipeline := retrieval.PipelineFunc[replayAnswer](func(ctx context.Context, q, strategy string) (replayAnswer, error) {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return replayAnswer{}, ctx.Err()
				}
				return replayAnswer{Query: q, Strategy: strategy, At: time.Now().UTC()}, nil
			})

			r := retrieval.NewCachedRetriever[replayAnswer](local, durable, pipeline)

			sources := map[string]int{}
			total := 0
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				resp, err := r.Answer(cmd.Context(), retrieval.Request{
					Query:    line,
					Strategy: strategy,
					Scope:    storecache.Scope{TenantID: tenant},
				})
				if err != nil {
					return err
				}
				sources[resp.Source]++
				total++
			}
			if err := scanner.Err(); err != nil {
				return errors.Wrap(err, "read query log")
			}

			stats := r.Stats(cmd.Context())
			return printJSON(cmd, map[string]any{
				"queries": total,
				"sources": sources,
				"local":   stats.Local,
				"durable": stats.Durable,
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", aicache.StrategyStandard, "strategy tag for every query")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant scope for durable keys")
	cmd.Flags().DurationVar(&delay, "pipeline-delay", 0, "simulated pipeline latency")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, map[string]any{
				"mode":                prof.Mode,
				"logLevel":            prof.LogLevel,
				"embeddingProvider":   prof.EmbeddingProvider,
				"embeddingModel":      prof.EmbeddingModel,
				"embeddingDimensions": prof.EmbeddingDimensions,
				"embeddingEnabled":    prof.IsEmbeddingEnabled(),
				"remoteDriver":        prof.RemoteDriver,
				"remoteEnabled":       prof.IsRemoteEnabled(),
				"remoteDB":            prof.RemoteDB,
				"namespace":           prof.Namespace,
				"sessionTTL":          prof.SessionTTL.String(),
				"staticTTL":           prof.StaticTTL.String(),
				"capacity":            prof.Capacity,
				"similarityThreshold": prof.SimilarityThreshold,
				"maxVariants":         prof.MaxVariants,
				"defaultTTL":          prof.DefaultTTL.String(),
				"strategyTTLs":        profile.FormatStrategyTTLs(prof.StrategyTTLs),
				"pruneInterval":       prof.PruneInterval.String(),
			})
		},
	}
}

func newEmbeddingService(p *profile.Profile) (ai.EmbeddingService, error) {
	cfg := ai.NewEmbeddingConfigFromProfile(p)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "embedding is not configured")
	}
	return ai.NewEmbeddingService(cfg)
}

func localConfig(p *profile.Profile) aicache.Config {
	return aicache.Config{
		Capacity:            p.Capacity,
		SimilarityThreshold: p.SimilarityThreshold,
		TTL:                 aicache.NewTTLPolicy(p.DefaultTTL, p.StrategyTTLs),
		Normalizer:          query.NewNormalizer(nil, p.MaxVariants),
	}
}
