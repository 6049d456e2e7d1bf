package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/merger"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/report"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/tracing"
)

const (
	ModeFull  = "full"
	ModeShard = "shard"
)

// Run executes every stage over every shard and reports the run to the
// configured sinks, whether it succeeded or not.
func (p *Pipeline) Run(ctx context.Context) (*report.Run, error) {
	return p.execute(ctx, ModeFull, func(ctx context.Context, run *report.Run) error {
		if err := p.interleaveInto(ctx, run); err != nil {
			return err
		}
		shards := p.AllShards()
		merged, err := p.Merge(ctx, shards)
		if err != nil {
			return err
		}
		recordMerged(run, merged)
		if _, err := p.Shuffle(ctx, shards); err != nil {
			return err
		}

		bal, err := p.Balance(ctx)
		if err != nil {
			return err
		}
		run.Moved = bal.Moved
		run.Undersupply = bal.Undersupply
		for _, sr := range bal.Shards {
			run.SetRole(sr.Shard, string(sr.Role))
		}
		run.ApplyVerification(bal.Verification)

		if _, err := p.Audit(ctx); err != nil {
			return err
		}
		run.Audited = true

		_, err = p.Publish(ctx, run.ID)
		return err
	})
}

// RunShard interleaves, merges and shuffles a single shard, for partial
// re-runs. Balancing needs the whole shard set and is not run.
func (p *Pipeline) RunShard(ctx context.Context, shard int) (*report.Run, error) {
	if shard < 0 || shard >= p.cfg.Dataset.NumShards {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig,
			"shard %d outside 0-%d", shard, p.cfg.Dataset.NumShards-1)
	}
	return p.execute(ctx, ModeShard, func(ctx context.Context, run *report.Run) error {
		if !p.opts.ReusePartitions || !p.hasPartitions() {
			if err := p.interleaveInto(ctx, run); err != nil {
				return err
			}
		}
		merged, err := p.Merge(ctx, []int{shard})
		if err != nil {
			return err
		}
		recordMerged(run, merged)
		shuffled, err := p.Shuffle(ctx, []int{shard})
		if err != nil {
			return err
		}
		for _, r := range shuffled {
			if r.Err != nil {
				return r.Err
			}
			run.Total += r.Records
		}
		return nil
	})
}

func (p *Pipeline) execute(ctx context.Context, mode string, body func(ctx context.Context, run *report.Run) error) (*report.Run, error) {
	run := &report.Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	ctx = logger.WithRunID(ctx, run.ID)
	ctx, root := tracing.StartRun(ctx, "shardprep."+mode, run.ID)
	log := logger.FromContext(ctx)
	log.Info("run started", "mode", mode, "shards", p.cfg.Dataset.NumShards)

	err := body(ctx, run)
	root.End(err)
	run.FinishedAt = time.Now().UTC()
	run.Status = report.StatusSucceeded
	if err != nil {
		run.Status = report.StatusFailed
		run.Error = err.Error()
	}
	root.Log(log)

	if len(p.opts.Sinks) > 0 {
		sinkCtx := context.WithoutCancel(ctx)
		if serr := report.Dispatch(sinkCtx, p.cfg.Report.SinkTimeout, run, p.opts.Sinks...); serr != nil {
			log.Warn("run summary not delivered to every sink", "error", serr)
		}
	}
	return run, err
}

func (p *Pipeline) interleaveInto(ctx context.Context, run *report.Run) error {
	res, err := p.Interleave(ctx)
	if err != nil {
		return err
	}
	run.Accounts = len(res.Accounts)
	run.SkippedAccounts = len(res.Skipped)
	run.Interleaved = res.Total
	return nil
}

func (p *Pipeline) hasPartitions() bool {
	accounts, err := shardfile.ListAccounts(p.fs, p.cfg.Dataset.PartitionDir)
	if err != nil && !errors.Is(err, apperrors.ErrMissingInput) {
		p.logger.Warn("cannot list partitions, interleaving again", "error", err)
	}
	return err == nil && len(accounts) > 0
}

func recordMerged(run *report.Run, merged []*merger.Result) {
	for _, m := range merged {
		run.SetMerged(m.Shard, m.Records)
	}
}
