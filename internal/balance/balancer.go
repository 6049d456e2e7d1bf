// Package balance redistributes records from oversized source shards into
// undersized sink shards so every shard approaches a target count. Records
// are only moved, never created or dropped.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/verify"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
)

const stage = "balance"

// Config locates the shuffled input and the balanced output.
type Config struct {
	InputDir   string
	OutputDir  string
	FilePrefix string
	Shards     int
	Policy     Policy
	File       shardfile.Options
}

// ShardResult reports one shard before and after balancing.
type ShardResult struct {
	Shard   int
	Role    Role
	Before  int64
	After   int64
	Missing bool
}

// Result reports a balancing pass. Undersupply is the total deficit the pool
// could not cover; it is reported, not treated as a failure.
type Result struct {
	Target       int
	Shards       []ShardResult
	Pool         int64
	Moved        int64
	ToAbsorber   int64
	Undersupply  int64
	Verification *verify.Summary
}

// Balancer runs the collect, distribute and verify passes.
type Balancer struct {
	fs      afero.Fs
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Balancer. m may be nil.
func New(fs afero.Fs, cfg Config, m *metrics.Metrics) *Balancer {
	return &Balancer{
		fs:      fs,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", stage),
	}
}

// Run balances the shard set. A missing input shard is logged and treated as
// empty. Any other read or write failure aborts the pass, since continuing
// would lose the records already moved into the pool.
func (b *Balancer) Run(ctx context.Context) (*Result, error) {
	p := b.cfg.Policy
	if err := p.Validate(b.cfg.Shards); err != nil {
		return nil, err
	}
	res := &Result{Target: p.Target}
	byShard := make(map[int]*ShardResult, b.cfg.Shards)
	track := func(shard int) *ShardResult {
		sr := &ShardResult{Shard: shard, Role: p.RoleOf(shard)}
		byShard[shard] = sr
		return sr
	}
	target := int64(p.Target)

	var pool ExcessPool
	for _, s := range p.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr := track(s)
		docs, err := b.load(ctx, sr)
		if err != nil {
			return nil, err
		}
		keep := docs
		if int64(len(docs)) > target {
			keep = docs[:p.Target]
			pool.Add(docs[p.Target:])
		}
		if err := b.store(sr, keep); err != nil {
			return nil, err
		}
		b.logger.Info("source shard collected", "shard", s, "before", sr.Before, "kept", sr.After, "pool", pool.Len())
	}
	res.Pool = int64(pool.Len())
	b.metrics.ExcessPoolRecordsSet(res.Pool)

	for _, s := range p.fillOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr := track(s)
		docs, err := b.load(ctx, sr)
		if err != nil {
			return nil, err
		}
		var added []document.Document
		if sr.Role == RoleAbsorber {
			added = pool.Take(pool.Remaining())
			res.ToAbsorber = int64(len(added))
		} else if deficit := target - sr.Before; deficit > 0 {
			added = pool.Take(int(deficit))
		}
		res.Moved += int64(len(added))
		if short := target - sr.Before - int64(len(added)); short > 0 {
			res.Undersupply += short
		}
		if err := b.store(sr, append(docs, added...)); err != nil {
			return nil, err
		}
		b.logger.Info("sink shard filled", "shard", s, "role", sr.Role, "before", sr.Before, "added", len(added), "after", sr.After)
	}

	for s := 0; s < b.cfg.Shards; s++ {
		if _, ok := byShard[s]; ok {
			continue
		}
		sr := track(s)
		docs, err := b.load(ctx, sr)
		if err != nil {
			return nil, err
		}
		if err := b.store(sr, docs); err != nil {
			return nil, err
		}
	}

	for _, sr := range byShard {
		res.Shards = append(res.Shards, *sr)
	}
	sort.Slice(res.Shards, func(i, j int) bool { return res.Shards[i].Shard < res.Shards[j].Shard })
	if res.Undersupply > 0 {
		b.logger.Warn("excess pool could not cover every sink deficit", "undersupply", res.Undersupply, "pool", res.Pool)
	}
	b.metrics.BalanceMovedAdd(res.Moved)

	sum, err := verify.Run(b.fs, b.cfg.OutputDir, b.cfg.FilePrefix, b.cfg.Shards)
	if err != nil {
		return nil, err
	}
	res.Verification = sum
	b.logger.Info("balance complete",
		"target", p.Target,
		"pool", res.Pool,
		"moved", res.Moved,
		"to_absorber", res.ToAbsorber,
		"undersupply", res.Undersupply,
	)
	return res, nil
}

func (b *Balancer) load(ctx context.Context, sr *ShardResult) ([]document.Document, error) {
	path := shardfile.ShardPath(b.cfg.InputDir, b.cfg.FilePrefix, sr.Shard)
	docs, err := shardfile.ReadAll(ctx, b.fs, path, b.cfg.File)
	if err != nil {
		if errors.Is(err, apperrors.ErrMissingInput) {
			b.logger.Warn("input shard missing, treating as empty", "shard", sr.Shard, "path", path)
			b.metrics.Skipped(stage, "missing_input")
			sr.Missing = true
			return nil, nil
		}
		return nil, fmt.Errorf("balancing shard %d: %w", sr.Shard, err)
	}
	sr.Before = int64(len(docs))
	return docs, nil
}

func (b *Balancer) store(sr *ShardResult, docs []document.Document) error {
	path := shardfile.ShardPath(b.cfg.OutputDir, b.cfg.FilePrefix, sr.Shard)
	if err := shardfile.WriteAll(b.fs, path, b.cfg.File, docs); err != nil {
		return fmt.Errorf("%w: writing balanced shard %d: %v", apperrors.ErrReadWrite, sr.Shard, err)
	}
	sr.After = int64(len(docs))
	b.metrics.ObserveShard(stage, sr.Shard, sr.After)
	b.metrics.AddRecords(stage, sr.After)
	return nil
}
