// Package merger combines the per-account partition files of one shard into
// a single shard file. Every account is streamed through a cursor holding one
// bounded batch, and the destination is flushed batch by batch.
package merger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/interleave"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/resilience"
)

const stage = "merge"

// Config locates the partition set and the merged output.
type Config struct {
	PartitionDir     string
	OutputDir        string
	FilePrefix       string
	Shards           int
	BatchSize        int
	MaxRowsPerSecond int
	ProgressEvery    int
	File             shardfile.Options
}

// Result reports one merged shard. Records counts only rows actually
// written; Accounts counts accounts whose partition was read to the end.
type Result struct {
	Shard    int
	Path     string
	Records  int64
	Accounts int
	Missing  []string
	Failed   []string
	Duration time.Duration
}

// Merger merges one shard at a time.
type Merger struct {
	fs       afero.Fs
	cfg      Config
	metrics  *metrics.Metrics
	throttle *resilience.RowThrottle
	logger   *slog.Logger
}

// New creates a Merger. m may be nil.
func New(fs afero.Fs, cfg Config, m *metrics.Metrics) *Merger {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	cfg.File.ReadBatch = cfg.BatchSize
	cfg.File.RowGroupSize = cfg.BatchSize
	return &Merger{
		fs:       fs,
		cfg:      cfg,
		metrics:  m,
		throttle: resilience.NewRowThrottle(cfg.MaxRowsPerSecond, cfg.BatchSize),
		logger:   slog.Default().With("component", stage),
	}
}

// MergeShard writes <OutputDir>/<prefix>_NN.parquet from every account's
// partition file for shard. Rows are copied round by round: in each round
// every account, in sorted order, contributes its interleave chunk size, so
// the output keeps round-then-account order. Accounts without a manifest are
// copied whole in the first round.
//
// A missing partition is logged and skipped. A partition that fails mid-read
// keeps the rows already copied and loses the rest. Only a failure to list
// the partitions or to write the output fails the shard.
func (m *Merger) MergeShard(ctx context.Context, shard int) (*Result, error) {
	if shard < 0 || shard >= m.cfg.Shards {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig,
			"shard %d outside 0-%d", shard, m.cfg.Shards-1)
	}
	start := time.Now()
	accounts, err := shardfile.ListAccounts(m.fs, m.cfg.PartitionDir)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Shard: shard,
		Path:  shardfile.ShardPath(m.cfg.OutputDir, m.cfg.FilePrefix, shard),
	}
	cursors := m.openCursors(ctx, shard, accounts, res)
	defer func() {
		for _, c := range cursors {
			c.close()
		}
	}()
	m.logger.Info("merging shard",
		"shard", shard,
		"accounts", len(accounts),
		"opened", len(cursors),
		"missing", len(res.Missing),
	)

	w, err := shardfile.Create(m.fs, res.Path, m.cfg.File)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrReadWrite, err)
	}

	completed := 0
	for {
		active := 0
		for _, c := range cursors {
			if c.done {
				continue
			}
			if err := c.copyRound(ctx, w, m.throttle); err != nil {
				w.Abort()
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%w: merging shard %d: %v", apperrors.ErrReadWrite, shard, err)
			}
			if c.done {
				completed++
				m.finishCursor(c, res, completed, len(cursors))
			} else {
				active++
			}
		}
		if active == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			w.Abort()
			return nil, err
		}
	}

	res.Records = w.Rows()
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finishing shard %d: %v", apperrors.ErrReadWrite, shard, err)
	}
	res.Duration = time.Since(start)

	m.metrics.AddRecords(stage, res.Records)
	m.metrics.ObserveShard(stage, shard, res.Records)
	m.logger.Info("shard merged",
		"shard", shard,
		"records", res.Records,
		"accounts", res.Accounts,
		"missing", len(res.Missing),
		"failed", len(res.Failed),
		"duration", res.Duration,
	)
	return res, nil
}

func (m *Merger) openCursors(ctx context.Context, shard int, accounts []string, res *Result) []*cursor {
	cursors := make([]*cursor, 0, len(accounts))
	for _, account := range accounts {
		path := shardfile.PartitionPath(m.cfg.PartitionDir, account, shard)
		r, err := shardfile.Open(ctx, m.fs, path, m.cfg.File)
		if err != nil {
			if errors.Is(err, apperrors.ErrMissingInput) {
				m.logger.Warn("partition file missing, skipping", "shard", shard, "account", account, "path", path)
				m.metrics.Skipped(stage, "missing_input")
				res.Missing = append(res.Missing, account)
			} else {
				m.logger.Error("partition file unreadable, skipping", "shard", shard, "account", account, "error", err)
				m.metrics.Skipped(stage, "read_write")
				res.Failed = append(res.Failed, account)
			}
			continue
		}
		cursors = append(cursors, &cursor{
			account: account,
			chunk:   m.chunkSize(account),
			r:       r,
			buf:     make([]document.Document, 0, m.cfg.BatchSize),
		})
	}
	return cursors
}

// chunkSize returns the rows per round of account, or 0 when the account
// has no manifest and is copied whole.
func (m *Merger) chunkSize(account string) int {
	man, err := interleave.ReadManifest(m.fs, m.cfg.PartitionDir, account)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			m.logger.Warn("manifest unreadable, copying partition whole", "account", account, "error", err)
		}
		return 0
	}
	return man.ChunkSize
}

func (m *Merger) finishCursor(c *cursor, res *Result, completed, total int) {
	if c.err != nil {
		m.logger.Error("partition read failed, remaining rows dropped",
			"shard", res.Shard,
			"account", c.account,
			"rows_copied", c.copied,
			"error", c.err,
		)
		m.metrics.Skipped(stage, "read_write")
		res.Failed = append(res.Failed, c.account)
		return
	}
	res.Accounts++
	if completed%m.cfg.ProgressEvery == 0 || completed == total {
		m.logger.Info("merge progress", "shard", res.Shard, "accounts_done", completed, "accounts_total", total)
	}
}
