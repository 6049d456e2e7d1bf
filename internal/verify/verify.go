// Package verify counts the rows of a shard set from file metadata only and
// summarises how evenly the shards are sized.
package verify

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

// ShardCount is the row count of one shard file.
type ShardCount struct {
	Shard   int
	Path    string
	Records int64
	Missing bool
	Err     error
}

// Summary is the result of a verification pass. Min, Max and SpreadPct only
// consider shards that could be counted.
type Summary struct {
	Shards    []ShardCount
	Total     int64
	Min       int64
	Max       int64
	SpreadPct float64
	Missing   []int
	Failed    []int
}

// Counted returns the number of shards whose row count is known.
func (s *Summary) Counted() int {
	return len(s.Shards) - len(s.Missing) - len(s.Failed)
}

// SpreadDefined reports whether SpreadPct is meaningful. It is not when no
// shard was counted or the smallest shard is empty.
func (s *Summary) SpreadDefined() bool {
	return s.Counted() > 0 && s.Min > 0
}

// Spread returns (max-min)/min as a percentage, or 0 when min is 0.
func Spread(min, max int64) float64 {
	if min <= 0 {
		return 0
	}
	return float64(max-min) / float64(min) * 100
}

// Run counts every shard <dir>/<prefix>_NN.parquet for NN in [0, shards).
// Missing or unreadable files are listed in the summary, never dropped.
func Run(fs afero.Fs, dir, prefix string, shards int) (*Summary, error) {
	if shards <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig,
			"shard count must be positive, got %d", shards)
	}
	logger := slog.Default().With("component", "verify")
	sum := &Summary{Shards: make([]ShardCount, 0, shards)}
	first := true
	for s := 0; s < shards; s++ {
		sc := ShardCount{Shard: s, Path: shardfile.ShardPath(dir, prefix, s)}
		n, err := shardfile.CountRows(fs, sc.Path)
		switch {
		case errors.Is(err, apperrors.ErrMissingInput):
			sc.Missing = true
			sc.Err = err
			sum.Missing = append(sum.Missing, s)
			logger.Warn("shard file missing", "shard", s, "path", sc.Path)
		case err != nil:
			sc.Err = err
			sum.Failed = append(sum.Failed, s)
			logger.Error("shard file unreadable", "shard", s, "path", sc.Path, "error", err)
		default:
			sc.Records = n
			sum.Total += n
			if first || n < sum.Min {
				sum.Min = n
			}
			if first || n > sum.Max {
				sum.Max = n
			}
			first = false
			logger.Info("shard counted", "shard", s, "records", n)
		}
		sum.Shards = append(sum.Shards, sc)
	}
	sum.SpreadPct = Spread(sum.Min, sum.Max)
	logger.Info("verification complete",
		"total", sum.Total,
		"min", sum.Min,
		"max", sum.Max,
		"spread_pct", fmt.Sprintf("%.2f", sum.SpreadPct),
		"missing", len(sum.Missing),
		"failed", len(sum.Failed),
	)
	return sum, nil
}
