package verify

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

var fileOpts = shardfile.Options{Dimension: 1, RowGroupSize: 8, ReadBatch: 8}

func writeShard(t *testing.T, fs afero.Fs, shard, n int) {
	t.Helper()
	docs := make([]document.Document, n)
	for i := range docs {
		docs[i] = document.Document{ID: fmt.Sprintf("%d-%d", shard, i), Embedding: []float32{1}}
	}
	require.NoError(t, shardfile.WriteAll(fs, shardfile.ShardPath("/out", "p", shard), fileOpts, docs))
}

func TestRunSummarisesCounts(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeShard(t, fs, 0, 10)
	writeShard(t, fs, 1, 8)
	writeShard(t, fs, 2, 12)

	sum, err := Run(fs, "/out", "p", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 30, sum.Total)
	assert.EqualValues(t, 8, sum.Min)
	assert.EqualValues(t, 12, sum.Max)
	assert.InDelta(t, 50.0, sum.SpreadPct, 1e-9)
	assert.True(t, sum.SpreadDefined())
	assert.Empty(t, sum.Missing)
	assert.Equal(t, 3, sum.Counted())
}

func TestRunReportsMissingShards(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeShard(t, fs, 0, 5)
	writeShard(t, fs, 2, 5)
	require.NoError(t, afero.WriteFile(fs, shardfile.ShardPath("/out", "p", 3), []byte("junk"), 0644))

	sum, err := Run(fs, "/out", "p", 4)
	require.NoError(t, err)
	require.Len(t, sum.Shards, 4)
	assert.Equal(t, []int{1}, sum.Missing)
	assert.Equal(t, []int{3}, sum.Failed)
	assert.True(t, sum.Shards[1].Missing)
	assert.EqualValues(t, 10, sum.Total)
	assert.Zero(t, sum.SpreadPct)
}

func TestSpreadWithEmptyShard(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeShard(t, fs, 0, 0)
	writeShard(t, fs, 1, 4)

	sum, err := Run(fs, "/out", "p", 2)
	require.NoError(t, err)
	assert.False(t, sum.SpreadDefined())
	assert.Zero(t, sum.SpreadPct)
}

func TestRunRejectsNoShards(t *testing.T) {
	_, err := Run(afero.NewMemMapFs(), "/out", "p", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func TestSpread(t *testing.T) {
	assert.Equal(t, 25.0, Spread(8, 10))
	assert.Zero(t, Spread(0, 10))
	assert.Zero(t, Spread(5, 5))
}
