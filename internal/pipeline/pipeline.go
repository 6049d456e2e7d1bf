// Package pipeline runs the shard-prep stages in their fixed order:
// interleave every account, merge every shard, shuffle every shard, then
// balance, audit and publish. A stage never starts before the previous one
// has finished writing every shard.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/balance"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/interleave"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/merger"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/publish"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/report"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shuffle"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/verify"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/tracing"
)

// Stage names, used for spans, metrics and log lines.
const (
	StageInterleave = "interleave"
	StageMerge      = "merge"
	StageShuffle    = "shuffle"
	StageBalance    = "balance"
	StageAudit      = "audit"
	StagePublish    = "publish"
)

// Options wires the optional collaborators of a Pipeline.
type Options struct {
	Metrics  *metrics.Metrics
	Sinks    []report.Sink
	Uploader publish.Uploader
	// Progress, when set, is told each stage as it starts.
	Progress interface{ SetStage(stage string) }
	// ReusePartitions skips interleaving in single-shard runs when a
	// partition set already exists.
	ReusePartitions bool
}

// Pipeline holds the configuration shared by every stage.
type Pipeline struct {
	fs     afero.Fs
	cfg    *config.Config
	opts   Options
	file   shardfile.Options
	logger *slog.Logger
}

// New creates a Pipeline over fs. cfg must already be validated.
func New(fs afero.Fs, cfg *config.Config, opts Options) *Pipeline {
	return &Pipeline{
		fs:     fs,
		cfg:    cfg,
		opts:   opts,
		file:   shardfile.OptionsFromConfig(cfg),
		logger: slog.Default().With("component", "pipeline"),
	}
}

// AllShards returns 0..numShards-1.
func (p *Pipeline) AllShards() []int {
	shards := make([]int, p.cfg.Dataset.NumShards)
	for i := range shards {
		shards[i] = i
	}
	return shards
}

// stage runs fn inside a child span, timing it and logging its outcome.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context, span *tracing.Span) error) error {
	ctx, span := tracing.StartSpan(ctx, name)
	log := logger.FromContext(ctx).With("stage", name)
	start := time.Now()
	log.Info("stage started")
	if p.opts.Progress != nil {
		p.opts.Progress.SetStage(name)
	}
	err := fn(ctx, span)
	elapsed := time.Since(start)
	span.End(err)
	p.opts.Metrics.ObserveStage(name, elapsed)
	if err != nil {
		log.Error("stage failed", "duration", elapsed, "error", err)
		return err
	}
	log.Info("stage finished", "duration", elapsed)
	return nil
}

// Interleave cuts every source account into per-shard partition files.
func (p *Pipeline) Interleave(ctx context.Context) (*interleave.Result, error) {
	var res *interleave.Result
	err := p.stage(ctx, StageInterleave, func(ctx context.Context, span *tracing.Span) error {
		partFile := p.file
		partFile.RowGroupSize = p.cfg.Interleave.WriteBatchSize
		source := ingestion.NewSource(p.fs, p.cfg.Dataset.SourceDir, p.file)
		il := interleave.New(p.fs, source, interleave.Config{
			PartitionDir: p.cfg.Dataset.PartitionDir,
			Shards:       p.cfg.Dataset.NumShards,
			Rounds:       p.cfg.Interleave.RoundsPerShard,
			File:         partFile,
		}, p.opts.Metrics)
		var err error
		if res, err = il.Run(ctx); err != nil {
			return err
		}
		span.SetAttr("accounts", len(res.Accounts))
		span.SetAttr("skipped_accounts", len(res.Skipped))
		span.SetAttr("records", res.Total)
		return nil
	})
	return res, err
}

// Merge merges each of shards, cooling down after every shard. A shard that
// fails is logged and contributes nothing: its previous output is removed so
// later stages see it as missing. The stage only fails when no shard could
// be merged at all.
func (p *Pipeline) Merge(ctx context.Context, shards []int) ([]*merger.Result, error) {
	var results []*merger.Result
	err := p.stage(ctx, StageMerge, func(ctx context.Context, span *tracing.Span) error {
		m := merger.New(p.fs, merger.Config{
			PartitionDir:     p.cfg.Dataset.PartitionDir,
			OutputDir:        p.cfg.Dataset.MergedDir,
			FilePrefix:       p.cfg.Dataset.FilePrefix,
			Shards:           p.cfg.Dataset.NumShards,
			BatchSize:        p.cfg.Merge.BatchSize,
			MaxRowsPerSecond: p.cfg.Merge.MaxRowsPerSecond,
			ProgressEvery:    p.cfg.Merge.ProgressEvery,
			File:             p.file,
		}, p.opts.Metrics)
		log := logger.FromContext(ctx).With("stage", StageMerge)

		var firstErr error
		var total int64
		for _, s := range shards {
			res, err := m.MergeShard(ctx, s)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, apperrors.ErrInvalidConfig) {
					return err
				}
				log.Error("shard merge failed, skipping", "shard", s, "error", err)
				stale := shardfile.ShardPath(p.cfg.Dataset.MergedDir, p.cfg.Dataset.FilePrefix, s)
				if rmErr := p.fs.RemoveAll(stale); rmErr != nil {
					log.Error("cannot remove previous merge output", "shard", s, "path", stale, "error", rmErr)
				}
				p.opts.Metrics.Skipped(StageMerge, "shard_failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			results = append(results, res)
			total += res.Records
			if err := resilience.Cooldown(ctx, fmt.Sprintf("merge of shard %d", s), p.cfg.Merge.Cooldown); err != nil {
				return err
			}
		}
		span.SetAttr("shards", len(results))
		span.SetAttr("records", total)
		if len(results) == 0 && firstErr != nil {
			return firstErr
		}
		return nil
	})
	return results, err
}

// Shuffle permutes each of shards in place. The cooldown is skipped after
// the last shard. Per-shard failures are reported in the results only.
func (p *Pipeline) Shuffle(ctx context.Context, shards []int) ([]shuffle.Result, error) {
	var results []shuffle.Result
	err := p.stage(ctx, StageShuffle, func(ctx context.Context, span *tracing.Span) error {
		sh := shuffle.New(p.fs, shuffle.Config{
			Dir:          p.cfg.Dataset.MergedDir,
			FilePrefix:   p.cfg.Dataset.FilePrefix,
			Seed:         p.cfg.Shuffle.Seed,
			PerShardSeed: p.cfg.Shuffle.PerShardSeed,
			File:         p.file,
		}, p.opts.Metrics)
		failed := 0
		for i, s := range shards {
			res := sh.ShuffleShard(ctx, s)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if res.Err != nil {
				failed++
			}
			results = append(results, res)
			if i == len(shards)-1 {
				break
			}
			if err := resilience.Cooldown(ctx, fmt.Sprintf("shuffle of shard %d", s), p.cfg.Shuffle.Cooldown); err != nil {
				return err
			}
		}
		span.SetAttr("shards", len(results))
		span.SetAttr("failed", failed)
		return nil
	})
	return results, err
}

// Balance redistributes the shuffled shards into the balanced directory and
// verifies the result.
func (p *Pipeline) Balance(ctx context.Context) (*balance.Result, error) {
	var res *balance.Result
	err := p.stage(ctx, StageBalance, func(ctx context.Context, span *tracing.Span) error {
		if err := resilience.Cooldown(ctx, "shuffle stage", p.cfg.Balance.Cooldown); err != nil {
			return err
		}
		b := balance.New(p.fs, balance.Config{
			InputDir:   p.cfg.Dataset.MergedDir,
			OutputDir:  p.cfg.Dataset.BalancedDir,
			FilePrefix: p.cfg.Dataset.FilePrefix,
			Shards:     p.cfg.Dataset.NumShards,
			Policy:     p.Policy(),
			File:       p.file,
		}, p.opts.Metrics)
		var err error
		if res, err = b.Run(ctx); err != nil {
			return err
		}
		p.opts.Metrics.SpreadSet(res.Verification.SpreadPct)
		span.SetAttr("moved", res.Moved)
		span.SetAttr("undersupply", res.Undersupply)
		span.SetAttr("total", res.Verification.Total)
		return nil
	})
	return res, err
}

// Policy returns the balancing policy named by the configuration.
func (p *Pipeline) Policy() balance.Policy {
	b := p.cfg.Balance
	return balance.Policy{
		Target:   b.TargetCount,
		Sources:  b.SourceShards,
		Sinks:    b.SinkShards,
		Absorber: b.Absorber(),
	}
}

// Verify counts the rows of dir's shard set from file metadata.
func (p *Pipeline) Verify(dir string) (*verify.Summary, error) {
	return verify.Run(p.fs, dir, p.cfg.Dataset.FilePrefix, p.cfg.Dataset.NumShards)
}

// Audit checks the balanced shard set against the interleave manifests.
func (p *Pipeline) Audit(ctx context.Context) (*audit.Report, error) {
	var rep *audit.Report
	err := p.stage(ctx, StageAudit, func(ctx context.Context, span *tracing.Span) error {
		var err error
		rep, err = audit.New(p.fs, audit.Config{
			PartitionDir: p.cfg.Dataset.PartitionDir,
			Dir:          p.cfg.Dataset.BalancedDir,
			FilePrefix:   p.cfg.Dataset.FilePrefix,
			Shards:       p.cfg.Dataset.NumShards,
			File:         p.file,
		}).Run(ctx)
		if rep != nil {
			span.SetAttr("expected", rep.Expected)
			span.SetAttr("actual", rep.Actual)
			span.SetAttr("duplicates", rep.DuplicateTotal)
		}
		return err
	})
	return rep, err
}

// Publish uploads the balanced shard set under runID. It is a no-op
// returning nil when no uploader is configured.
func (p *Pipeline) Publish(ctx context.Context, runID string) (*publish.Manifest, error) {
	if p.opts.Uploader == nil {
		p.logger.Info("publishing disabled, no backend configured")
		return nil, nil
	}
	var man *publish.Manifest
	err := p.stage(ctx, StagePublish, func(ctx context.Context, span *tracing.Span) error {
		var err error
		man, err = publish.New(p.fs, p.opts.Uploader, publish.Config{
			Dir:        p.cfg.Dataset.BalancedDir,
			FilePrefix: p.cfg.Dataset.FilePrefix,
			Shards:     p.cfg.Dataset.NumShards,
			Prefix:     p.cfg.Publish.Prefix,
		}, p.opts.Metrics).Run(ctx, runID)
		if man != nil {
			span.SetAttr("objects", len(man.Objects))
		}
		return err
	})
	return man, err
}
