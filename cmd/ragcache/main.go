package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/ragcache/internal/profile"
)

var rootCmd = &cobra.Command{
	Use:   "ragcache",
	Short: "Inspect and operate the semantic retrieval cache",
	Long: `ragcache canonicalizes queries, computes embeddings, and manages the
in-process and durable tiers of the retrieval cache.

Settings come from RAGCACHE_* environment variables; flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile(cmd)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: p.ParseLogLevel(),
		})))
		prof = p
		return nil
	},
}

// prof is the effective profile, set before any subcommand runs.
var prof *profile.Profile

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "", "run mode (dev or prod)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("remote-addr", "", "durable store address, empty disables the durable tier")
	flags.String("remote-driver", "", "durable store client (redis or valkey)")
	flags.Int("remote-db", 0, "durable store database index")
	flags.String("namespace", "", "durable key prefix")
	flags.String("embedding-provider", "", "embedding provider (openai, siliconflow, ollama, gemini)")
	flags.String("embedding-model", "", "embedding model")
	flags.Int("embedding-dimensions", 0, "embedding output dimensions")
	flags.Int("max-variants", 0, "maximum query variants")

	viper.SetEnvPrefix("ragcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	rootCmd.AddCommand(
		newNormalizeCmd(),
		newVariantsCmd(),
		newSimilarityCmd(),
		newEmbedCmd(),
		newInvalidateCmd(),
		newStatsCmd(),
		newReplayCmd(),
		newConfigCmd(),
	)
}

// loadProfile starts from defaults, applies RAGCACHE_* variables, then any
// flag given on the command line, zero and empty values included.
func loadProfile(cmd *cobra.Command) (*profile.Profile, error) {
	p := profile.Default()
	p.FromEnv()

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	setString := func(key string, dst *string) {
		if changed(key) {
			*dst = viper.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if changed(key) {
			*dst = viper.GetInt(key)
		}
	}

	setString("mode", &p.Mode)
	setString("log-level", &p.LogLevel)
	setString("remote-addr", &p.RemoteAddr)
	setString("remote-driver", &p.RemoteDriver)
	setInt("remote-db", &p.RemoteDB)
	setString("namespace", &p.Namespace)
	setString("embedding-provider", &p.EmbeddingProvider)
	setString("embedding-model", &p.EmbeddingModel)
	setInt("embedding-dimensions", &p.EmbeddingDimensions)
	setInt("max-variants", &p.MaxVariants)

	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return p, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
