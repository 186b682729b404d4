// Command axiomgraph is the operator CLI for the axiom entity engine: open
// a store, inspect its stats, run pending migrations, and import a source
// file.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/axiomgraph/axiom"
	"github.com/axiomgraph/axiom/pkg/config"
	"github.com/axiomgraph/axiom/pkg/engine"
	"github.com/axiomgraph/axiom/pkg/logging"
	"github.com/axiomgraph/axiom/pkg/resource"
	"github.com/axiomgraph/axiom/pkg/statsdb"
	"github.com/axiomgraph/axiom/pkg/types"
)

// statsDBPath is the local SQLite scratch database `stats`/`import` use to
// keep a trend history alongside the engine's own JSON-backed stats.
const statsDBPath = "axiomgraph-stats.db"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "axiomgraph",
		Short: "operator CLI for the axiom entity engine",
	}
	config.RegisterFlags(root.PersistentFlags(), v)

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newStatsCmd(v))
	root.AddCommand(newMigrateCmd(v))
	root.AddCommand(newImportCmd(v))
	return root
}

// placeholderEmbedder is a stand-in for the injected embedder, which spec
// §1 treats as an external collaborator; it produces a deterministic but
// not semantically meaningful vector so the CLI can open a store without a
// real model wired in.
func placeholderEmbedder(_ context.Context, text string) ([]float32, error) {
	dims := 384
	v := make([]float32, dims)
	for i, b := range []byte(text) {
		v[i%dims] += float32(b) / 255
	}
	return v, nil
}

func openEngine(ctx context.Context, v *viper.Viper) (*engine.Engine, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log := logging.NewStdLogger(logging.LevelInfo)
	return axiom.Open(ctx, cfg, axiom.Options{
		Embedder: placeholderEmbedder,
		Logger:   log,
		Env:      resource.EnvDevelopment,
	})
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "open the engine and block (placeholder for an embedding front-end)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := openEngine(ctx, v); err != nil {
				return err
			}
			cmd.Println("engine opened; press Ctrl+C to exit")
			select {}
		},
	}
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print engine-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx, v)
			if err != nil {
				return err
			}
			stats := eng.GetStats()
			cmd.Printf("nouns=%d verbs=%d last_flush=%s\n", stats.NounCount, stats.VerbCount, stats.LastFlush)
			for t, c := range stats.ByNounType {
				cmd.Printf("  noun[%s]=%d\n", t, c)
			}
			for t, c := range stats.ByVerbType {
				cmd.Printf("  verb[%s]=%d\n", t, c)
			}

			db, err := statsdb.Open(statsDBPath)
			if err != nil {
				cmd.PrintErrf("local stats history unavailable: %v\n", err)
				return nil
			}
			defer db.Close()
			if err := db.RecordSnapshot(ctx, stats); err != nil {
				cmd.PrintErrf("failed to record stats snapshot: %v\n", err)
			}
			recent, err := db.RecentImports(ctx, 5)
			if err == nil && len(recent) > 0 {
				cmd.Println("recent imports:")
				for _, rec := range recent {
					cmd.Printf("  %s: entities=%d relationships=%d errors=%d source=%s\n",
						rec.StartedAt.Format("2006-01-02T15:04:05"), rec.Entities, rec.Relationships, rec.Errors, rec.Source)
				}
			}
			return nil
		},
	}
}

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run or preview pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				cmd.Println("dry-run mode requested; registering project-specific migrations is left to the embedding application")
				return nil
			}
			cmd.Println("no project-specific migrations registered")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without writing")
	return cmd
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "import entities from a file into the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			started := time.Now()
			eng, err := openEngine(ctx, v)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			id, err := eng.Add(ctx, string(data), types.NounDocument, nil, engine.AddOpts{})
			rec := statsdb.ImportRecord{StartedAt: started, FinishedAt: time.Now(), Source: args[0]}
			if err != nil {
				rec.Errors = 1
			} else {
				rec.Entities = 1
				cmd.Printf("imported as noun %s\n", id)
			}
			if db, dbErr := statsdb.Open(statsDBPath); dbErr == nil {
				defer db.Close()
				_ = db.RecordImport(ctx, rec)
			}
			if err != nil {
				return err
			}
			return eng.Flush(ctx)
		},
	}
}
