package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/report"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/synth"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{fs: afero.NewOsFs(), out: out}
	var configPath string

	root := &cobra.Command{
		Use:           "shardprep",
		Short:         "Prepare balanced, shuffled benchmark shards",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(configPath)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/development.yaml", "path to config file")

	root.AddCommand(
		newGenerateCommand(a),
		newInterleaveCommand(a),
		newMergeCommand(a),
		newShuffleCommand(a),
		newBalanceCommand(a),
		newVerifyCommand(a),
		newAuditCommand(a),
		newPublishCommand(a),
		newRunCommand(a),
	)
	return root
}

// parseShards turns the optional shard argument into the shard list to
// process: one shard when given, every shard otherwise.
func parseShards(args []string, numShards int) ([]int, error) {
	if len(args) == 0 {
		all := make([]int, numShards)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	s, err := strconv.Atoi(args[0])
	if err != nil || s < 0 || s >= numShards {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig,
			"shard must be an integer in 0-%d, got %q", numShards-1, args[0])
	}
	return []int{s}, nil
}

func newGenerateCommand(a *app) *cobra.Command {
	var sc synth.Config
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic source corpus into the source directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sc.Dir == "" {
				sc.Dir = a.cfg.Dataset.SourceDir
			}
			sc.Dimension = a.cfg.Dataset.Dimension
			sc.File = shardfile.OptionsFromConfig(a.cfg)
			st, err := synth.New(a.fs, sc).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %d accounts, %s documents in %d files to %s\n",
				st.Accounts, humanize.Comma(st.Docs), st.Files, sc.Dir)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&sc.Dir, "dir", "", "output directory (default: dataset.sourceDir)")
	f.IntVar(&sc.Accounts, "accounts", 20, "number of accounts")
	f.IntVar(&sc.MinDocs, "min-docs", 100, "fewest documents per account")
	f.IntVar(&sc.MaxDocs, "max-docs", 5000, "most documents per account")
	f.IntVar(&sc.FilesPerAccount, "files", 1, "files per account")
	f.Uint64Var(&sc.Seed, "seed", 1, "generator seed")
	f.StringVar(&sc.Format, "format", synth.FormatNDJSON, "ndjson or parquet")
	f.StringVar(&sc.Compression, "compression", "", "ndjson compression: gz, zst or lz4")
	f.IntVar(&sc.Concurrency, "concurrency", 4, "accounts written at once")
	return cmd
}

func newInterleaveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interleave",
		Short: "Cut every account into per-shard partition files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				p, err := a.pipeline(ctx, false, false)
				if err != nil {
					return err
				}
				res, err := p.Interleave(ctx)
				if err != nil {
					return err
				}
				counts := make([]report.ShardCount, len(res.ShardCounts))
				for s, n := range res.ShardCounts {
					counts[s] = report.ShardCount{Shard: s, Records: n}
				}
				fmt.Fprintln(a.out, report.DocCounts("INTERLEAVED DOC COUNTS", counts))
				for _, sk := range res.Skipped {
					fmt.Fprintf(a.out, "skipped account %s: %s\n", sk.ID, sk.Reason)
				}
				return nil
			})
		},
	}
}

func newMergeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge [shard]",
		Short: "Merge and shuffle every shard, or only the given one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shards, err := parseShards(args, a.cfg.Dataset.NumShards)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				p, err := a.pipeline(ctx, false, false)
				if err != nil {
					return err
				}
				merged, err := p.Merge(ctx, shards)
				if err != nil {
					return err
				}
				if _, err := p.Shuffle(ctx, shards); err != nil {
					return err
				}
				counts := make([]report.ShardCount, 0, len(merged))
				for _, m := range merged {
					counts = append(counts, report.ShardCount{Shard: m.Shard, Records: m.Records})
				}
				fmt.Fprintln(a.out, report.DocCounts("DOC COUNTS FOR THIS RUN", counts))
				return nil
			})
		},
	}
}

func newShuffleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shuffle [shard]",
		Short: "Shuffle merged shards in place",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shards, err := parseShards(args, a.cfg.Dataset.NumShards)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				p, err := a.pipeline(ctx, false, false)
				if err != nil {
					return err
				}
				results, err := p.Shuffle(ctx, shards)
				if err != nil {
					return err
				}
				for _, r := range results {
					status := "ok"
					if r.Err != nil {
						status = r.Err.Error()
					}
					fmt.Fprintf(a.out, "shard %02d: %d records, seed %d, %s\n", r.Shard, r.Records, r.Seed, status)
				}
				return nil
			})
		},
	}
}

func newBalanceCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Move excess records from source shards into sink shards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				p, err := a.pipeline(ctx, false, false)
				if err != nil {
					return err
				}
				res, err := p.Balance(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, report.Verification("BALANCED SHARDS", res.Verification))
				fmt.Fprintf(a.out, "excess pool %d, moved %d, to absorber %d, undersupply %d\n",
					res.Pool, res.Moved, res.ToAbsorber, res.Undersupply)
				return nil
			})
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Count the rows of every shard from file metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Dataset.BalancedDir
			}
			p, err := a.pipeline(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			sum, err := p.Verify(dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, report.Verification("SHARD COUNTS IN "+dir, sum))
			if n := len(sum.Missing) + len(sum.Failed); n > 0 {
				return apperrors.Newf(apperrors.ErrMissingInput, apperrors.ExitFailure,
					"%d of %d shards missing or unreadable", n, len(sum.Shards))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "shard directory to verify (default: balanced dir)")
	return cmd
}

func newAuditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check the balanced shards against the interleave manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			rep, err := p.Audit(cmd.Context())
			if rep != nil {
				fmt.Fprintf(a.out, "expected %d, found %d, duplicate ids %d, missing shards %v\n",
					rep.Expected, rep.Actual, rep.DuplicateTotal, rep.MissingShards)
				for _, id := range rep.Duplicates {
					fmt.Fprintf(a.out, "duplicate id: %s\n", id)
				}
			}
			return err
		},
	}
}

func newPublishCommand(a *app) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the balanced shards to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Publish.Backend == "" {
				return apperrors.New(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig, "publish.backend is not set")
			}
			if runID == "" {
				runID = uuid.NewString()
			}
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				p, err := a.pipeline(ctx, true, false)
				if err != nil {
					return err
				}
				man, err := p.Publish(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "published %d shards (%d records) under run %s\n", len(man.Objects), man.Total, runID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "object prefix below publish.prefix (default: new uuid)")
	return cmd
}

func newRunCommand(a *app) *cobra.Command {
	var reuse bool
	cmd := &cobra.Command{
		Use:   "run [shard]",
		Short: "Run the whole pipeline, or interleave, merge and shuffle one shard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shards, err := parseShards(args, a.cfg.Dataset.NumShards)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				p, err := a.pipeline(ctx, true, reuse)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					_, err = p.Run(ctx)
				} else {
					_, err = p.RunShard(ctx, shards[0])
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&reuse, "reuse-partitions", false, "with a shard, skip interleaving when partitions already exist")
	return cmd
}
