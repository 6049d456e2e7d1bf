// Package audit checks the final shard set against the interleave
// manifests: the row total must match the deduplicated input exactly and no
// identifier may appear twice. Either violation means the shard set is
// corrupt.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/interleave"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// maxReportedDuplicates caps the identifiers kept in a Report.
const maxReportedDuplicates = 100

// Config locates the partition manifests and the final shards.
type Config struct {
	PartitionDir string
	Dir          string
	FilePrefix   string
	Shards       int
	File         shardfile.Options
}

// Report is the outcome of an audit.
type Report struct {
	Expected       int64
	Actual         int64
	Accounts       int
	Unmanifested   []string
	MissingShards  []int
	Collisions     uint64
	Duplicates     []string
	DuplicateTotal int
}

// OK reports whether the shard set passed.
func (r *Report) OK() bool {
	return r.Expected == r.Actual && r.DuplicateTotal == 0 && len(r.MissingShards) == 0
}

// Auditor streams the id column of every shard twice at most: once to
// fingerprint every id into a roaring bitmap, and, only if fingerprints
// collide, once more to resolve the collisions exactly.
type Auditor struct {
	fs     afero.Fs
	cfg    Config
	logger *slog.Logger
}

// New creates an Auditor.
func New(fs afero.Fs, cfg Config) *Auditor {
	return &Auditor{
		fs:     fs,
		cfg:    cfg,
		logger: slog.Default().With("component", "audit"),
	}
}

// Run audits the shard set. It returns the report together with an
// ErrCountMismatch error when the shard set fails.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	rep := &Report{}
	if err := a.expected(rep); err != nil {
		return nil, err
	}

	seen := roaring64.New()
	collided := roaring64.New()
	err := a.scan(ctx, rep, func(id string) {
		h := xxhash.Sum64String(id)
		if !seen.CheckedAdd(h) {
			collided.Add(h)
		}
	})
	if err != nil {
		return nil, err
	}
	rep.Collisions = collided.GetCardinality()

	if rep.Collisions > 0 {
		counts := make(map[string]int)
		err := a.scan(ctx, nil, func(id string) {
			if collided.Contains(xxhash.Sum64String(id)) {
				counts[id]++
			}
		})
		if err != nil {
			return nil, err
		}
		for id, n := range counts {
			if n > 1 {
				rep.DuplicateTotal += n - 1
				rep.Duplicates = append(rep.Duplicates, id)
			}
		}
		sort.Strings(rep.Duplicates)
		if len(rep.Duplicates) > maxReportedDuplicates {
			rep.Duplicates = rep.Duplicates[:maxReportedDuplicates]
		}
	}

	a.logger.Info("audit complete",
		"expected", rep.Expected,
		"actual", rep.Actual,
		"accounts", rep.Accounts,
		"missing_shards", len(rep.MissingShards),
		"fingerprint_collisions", rep.Collisions,
		"duplicate_ids", rep.DuplicateTotal,
	)
	if rep.OK() {
		return rep, nil
	}
	return rep, apperrors.Newf(apperrors.ErrCountMismatch, apperrors.ExitCorruption,
		"expected %d records, found %d across %d shards (%d missing), %d duplicate ids",
		rep.Expected, rep.Actual, a.cfg.Shards, len(rep.MissingShards), rep.DuplicateTotal)
}

// expected sums the manifest counts. Accounts produced without a manifest
// contribute the row counts of their partition files.
func (a *Auditor) expected(rep *Report) error {
	accounts, err := shardfile.ListAccounts(a.fs, a.cfg.PartitionDir)
	if err != nil {
		return err
	}
	rep.Accounts = len(accounts)
	for _, account := range accounts {
		m, err := interleave.ReadManifest(a.fs, a.cfg.PartitionDir, account)
		if err == nil {
			rep.Expected += int64(m.Count)
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		rep.Unmanifested = append(rep.Unmanifested, account)
		for s := 0; s < a.cfg.Shards; s++ {
			n, err := shardfile.CountRows(a.fs, shardfile.PartitionPath(a.cfg.PartitionDir, account, s))
			if err != nil && !errors.Is(err, apperrors.ErrMissingInput) {
				return err
			}
			rep.Expected += n
		}
	}
	return nil
}

// scan streams every id of the final shard set. When rep is non-nil it also
// records row totals and missing shards.
func (a *Auditor) scan(ctx context.Context, rep *Report, fn func(id string)) error {
	for s := 0; s < a.cfg.Shards; s++ {
		path := shardfile.ShardPath(a.cfg.Dir, a.cfg.FilePrefix, s)
		err := shardfile.ForEachIDBatch(ctx, a.fs, path, a.cfg.File, func(ids []string) error {
			if rep != nil {
				rep.Actual += int64(len(ids))
			}
			for _, id := range ids {
				fn(id)
			}
			return ctx.Err()
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrMissingInput) {
				if rep != nil {
					a.logger.Error("final shard missing", "shard", s, "path", path)
					rep.MissingShards = append(rep.MissingShards, s)
				}
				continue
			}
			return fmt.Errorf("auditing shard %d: %w", s, err)
		}
	}
	return nil
}
