package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaultsSplitShards(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, cfg.Balance.SourceShards)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, cfg.Balance.SinkShards)
	assert.Equal(t, 9, cfg.Balance.Absorber())
	assert.Equal(t, uint64(42), cfg.Shuffle.Seed)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
dataset:
  numShards: 4
balance:
  targetCount: 100
  sourceShards: [0, 1]
  sinkShards: [3, 2]
merge:
  cooldown: 1s
`)
	t.Setenv("SHARDPREP_TARGET_COUNT", "250")
	t.Setenv("SHARDPREP_MERGE_COOLDOWN", "0s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Dataset.NumShards)
	assert.Equal(t, 250, cfg.Balance.TargetCount)
	assert.Equal(t, time.Duration(0), cfg.Merge.Cooldown)
	assert.Equal(t, 2, cfg.Balance.Absorber())
	assert.Equal(t, "shuffle_train", cfg.Dataset.FilePrefix)
}

func TestLoadDevelopmentConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Dataset.NumShards)
	assert.Equal(t, 9, cfg.Balance.Absorber())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero shards", func(c *Config) { c.Dataset.NumShards = 0 }},
		{"zero rounds", func(c *Config) { c.Interleave.RoundsPerShard = 0 }},
		{"negative cooldown", func(c *Config) { c.Shuffle.Cooldown = -time.Second }},
		{"unknown compression", func(c *Config) { c.ShardFile.Compression = "brotli" }},
		{"unknown backend", func(c *Config) { c.Publish.Backend = "gcs" }},
		{"publish without bucket", func(c *Config) { c.Publish.Backend = "s3" }},
		{"overlapping groups", func(c *Config) {
			c.Balance.SourceShards = []int{0, 1}
			c.Balance.SinkShards = []int{1, 2}
		}},
		{"shard out of range", func(c *Config) {
			c.Balance.SourceShards = []int{0}
			c.Balance.SinkShards = []int{10}
		}},
		{"absorber not a sink", func(c *Config) {
			c.Balance.SourceShards = []int{0}
			c.Balance.SinkShards = []int{1}
			c.Balance.AbsorberShard = 0
		}},
		{"no sinks", func(c *Config) { c.Balance.SourceShards = []int{0} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
			assert.Equal(t, apperrors.ExitInvalidConfig, apperrors.ExitCode(err))
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := Default().Postgres.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=shardprep")
	assert.Contains(t, dsn, "sslmode=disable")
}
