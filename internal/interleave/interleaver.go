package interleave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
)

const stage = "interleave"

// Config is the grid shape and output location of the interleave stage.
type Config struct {
	PartitionDir string
	Shards       int
	Rounds       int
	File         shardfile.Options
}

// AccountResult describes one interleaved account.
type AccountResult struct {
	ID          string
	Count       int
	ChunkSize   int
	ShardCounts []int
	Duplicates  int
	Invalid     int
}

// SkippedAccount names an account whose contribution was dropped.
type SkippedAccount struct {
	ID     string
	Reason string
}

// Result summarises an interleave run.
type Result struct {
	Accounts    []AccountResult
	Skipped     []SkippedAccount
	ShardCounts []int64
	Total       int64
}

// Interleaver reads one account at a time and writes its rows for every shard
// into that account's partition files. Only one account is held in memory.
type Interleaver struct {
	fs      afero.Fs
	source  *ingestion.Source
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Interleaver. m may be nil.
func New(fs afero.Fs, source *ingestion.Source, cfg Config, m *metrics.Metrics) *Interleaver {
	return &Interleaver{
		fs:      fs,
		source:  source,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", stage),
	}
}

// Run interleaves every account of the source. Accounts that cannot be read
// or written are logged and skipped; the run only fails when the source
// itself cannot be listed or the context ends.
func (i *Interleaver) Run(ctx context.Context) (*Result, error) {
	if i.cfg.Shards <= 0 || i.cfg.Rounds <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig,
			"shards and rounds must be positive, got %d and %d", i.cfg.Shards, i.cfg.Rounds)
	}
	accounts, err := i.source.Accounts()
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no account files found", apperrors.ErrMissingInput)
	}
	i.logger.Info("interleaving accounts",
		"accounts", len(accounts),
		"shards", i.cfg.Shards,
		"rounds_per_shard", i.cfg.Rounds,
		"micro_chunks", i.cfg.Shards*i.cfg.Rounds,
	)
	if err := i.pruneStale(accounts); err != nil {
		return nil, err
	}

	res := &Result{ShardCounts: make([]int64, i.cfg.Shards)}
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ar, err := i.interleaveAccount(ctx, acct)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			reason := skipReason(err)
			i.logger.Error("skipping account", "account", acct.ID, "reason", reason, "error", err)
			i.metrics.Skipped(stage, reason)
			res.Skipped = append(res.Skipped, SkippedAccount{ID: acct.ID, Reason: err.Error()})
			continue
		}
		res.Accounts = append(res.Accounts, *ar)
		for s, n := range ar.ShardCounts {
			res.ShardCounts[s] += int64(n)
		}
		res.Total += int64(ar.Count)
		i.logger.Info("account interleaved",
			"account", ar.ID,
			"docs", ar.Count,
			"chunk_size", ar.ChunkSize,
			"duplicates", ar.Duplicates,
			"invalid", ar.Invalid,
		)
	}

	for s, n := range res.ShardCounts {
		i.metrics.ObserveShard(stage, s, n)
	}
	i.metrics.AddRecords(stage, res.Total)
	i.logger.Info("interleave complete",
		"accounts", len(res.Accounts),
		"skipped", len(res.Skipped),
		"total_docs", res.Total,
	)
	return res, nil
}

// pruneStale removes the partition directories of accounts that are no
// longer in the source, so a previous run's partitions never reach the merge.
func (i *Interleaver) pruneStale(accounts []ingestion.Account) error {
	existing, err := shardfile.ListAccounts(i.fs, i.cfg.PartitionDir)
	if err != nil {
		if errors.Is(err, apperrors.ErrMissingInput) {
			return nil
		}
		return err
	}
	current := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		current[a.ID] = struct{}{}
	}
	for _, id := range existing {
		if _, ok := current[id]; ok {
			continue
		}
		dir := shardfile.AccountDir(i.cfg.PartitionDir, id)
		if err := i.fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("%w: clearing %s: %v", apperrors.ErrReadWrite, dir, err)
		}
		i.logger.Info("removed partitions of account no longer in source", "account", id)
	}
	return nil
}

// interleaveAccount clears the account's partitions before loading it, so a
// skipped account contributes nothing, not even an earlier run's rows.
func (i *Interleaver) interleaveAccount(ctx context.Context, acct ingestion.Account) (*AccountResult, error) {
	dir := shardfile.AccountDir(i.cfg.PartitionDir, acct.ID)
	if err := i.fs.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("%w: clearing %s: %v", apperrors.ErrReadWrite, dir, err)
	}
	docs, stats, err := i.source.Load(ctx, acct)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: account %s has no valid documents", apperrors.ErrMissingInput, acct.ID)
	}

	n := len(docs)
	chunk := ChunkSize(n, i.cfg.Shards, i.cfg.Rounds)
	ar := &AccountResult{
		ID:          acct.ID,
		Count:       n,
		ChunkSize:   chunk,
		ShardCounts: make([]int, i.cfg.Shards),
		Duplicates:  stats.Duplicates,
		Invalid:     stats.Invalid,
	}
	for s := 0; s < i.cfg.Shards; s++ {
		start, end := ShardRange(n, chunk, s, i.cfg.Rounds)
		if err := i.writePartition(acct.ID, s, docs[start:end]); err != nil {
			i.fs.RemoveAll(dir)
			return nil, err
		}
		ar.ShardCounts[s] = end - start
	}

	m := Manifest{
		Account:     acct.ID,
		Count:       n,
		ChunkSize:   chunk,
		Shards:      i.cfg.Shards,
		Rounds:      i.cfg.Rounds,
		ShardCounts: ar.ShardCounts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := WriteManifest(i.fs, i.cfg.PartitionDir, m); err != nil {
		i.fs.RemoveAll(dir)
		return nil, err
	}
	return ar, nil
}

// writePartition always writes the file, even when rows is empty, so the
// merge stage can tell an empty contribution from a missing one.
func (i *Interleaver) writePartition(account string, shard int, rows []document.Document) error {
	path := shardfile.PartitionPath(i.cfg.PartitionDir, account, shard)
	if err := shardfile.WriteAll(i.fs, path, i.cfg.File, rows); err != nil {
		return fmt.Errorf("%w: writing %s: %v", apperrors.ErrReadWrite, path, err)
	}
	return nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrMissingInput):
		return "missing_input"
	case errors.Is(err, apperrors.ErrReadWrite):
		return "read_write"
	default:
		return "other"
	}
}
