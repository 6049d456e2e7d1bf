// Package shuffle applies a seeded full permutation to one merged shard file
// and rewrites it in place.
package shuffle

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
)

const stage = "shuffle"

// Config locates the merged shards and fixes the permutation seed.
type Config struct {
	Dir          string
	FilePrefix   string
	Seed         uint64
	PerShardSeed bool
	File         shardfile.Options
}

// Result reports one shuffled shard. Records is zero when the shard could
// not be read or written.
type Result struct {
	Shard    int
	Records  int64
	Seed     uint64
	Err      error
	Duration time.Duration
}

// Shuffler permutes one shard at a time, fully in memory.
type Shuffler struct {
	fs      afero.Fs
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Shuffler. m may be nil.
func New(fs afero.Fs, cfg Config, m *metrics.Metrics) *Shuffler {
	return &Shuffler{
		fs:      fs,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", stage),
	}
}

// SeedFor returns the seed used for shard.
func (s *Shuffler) SeedFor(shard int) uint64 {
	if s.cfg.PerShardSeed {
		return s.cfg.Seed + uint64(shard)
	}
	return s.cfg.Seed
}

// Permute shuffles docs in place with a PCG source seeded by seed.
func Permute(docs []document.Document, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(len(docs), func(i, j int) {
		docs[i], docs[j] = docs[j], docs[i]
	})
}

// ShuffleShard loads the shard, permutes it and atomically replaces the file.
// Failures are logged and reported in the Result with zero records; they are
// never returned, so one bad shard does not stop the stage.
func (s *Shuffler) ShuffleShard(ctx context.Context, shard int) Result {
	start := time.Now()
	res := Result{Shard: shard, Seed: s.SeedFor(shard)}
	path := shardfile.ShardPath(s.cfg.Dir, s.cfg.FilePrefix, shard)

	docs, err := shardfile.ReadAll(ctx, s.fs, path, s.cfg.File)
	if err != nil {
		return s.fail(res, "reading shard", err)
	}
	Permute(docs, res.Seed)
	if err := shardfile.WriteAll(s.fs, path, s.cfg.File, docs); err != nil {
		return s.fail(res, "writing shard", err)
	}

	res.Records = int64(len(docs))
	res.Duration = time.Since(start)
	s.metrics.AddRecords(stage, res.Records)
	s.metrics.ObserveShard(stage, shard, res.Records)
	s.logger.Info("shard shuffled", "shard", shard, "records", res.Records, "seed", res.Seed, "duration", res.Duration)
	return res
}

func (s *Shuffler) fail(res Result, op string, err error) Result {
	res.Err = err
	s.logger.Error("shuffle failed, shard left as is", "shard", res.Shard, "op", op, "error", err)
	s.metrics.Skipped(stage, "read_write")
	s.metrics.ObserveShard(stage, res.Shard, 0)
	return res
}
