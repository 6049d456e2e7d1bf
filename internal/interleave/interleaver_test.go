package interleave

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
)

var fileOpts = shardfile.Options{Dimension: 2, RowGroupSize: 4, ReadBatch: 4}

func writeAccount(t *testing.T, fs afero.Fs, id string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"id":"%s-%02d","emb":[%d,1]}`+"\n", id, i, i)
	}
	require.NoError(t, afero.WriteFile(fs, fmt.Sprintf("/raw/account_id=%s/data.json", id), []byte(b.String()), 0644))
}

func newInterleaver(fs afero.Fs, shards, rounds int, m *metrics.Metrics) *Interleaver {
	src := ingestion.NewSource(fs, "/raw", fileOpts)
	return New(fs, src, Config{PartitionDir: "/parts", Shards: shards, Rounds: rounds, File: fileOpts}, m)
}

func readIDs(t *testing.T, fs afero.Fs, path string) []string {
	t.Helper()
	docs, err := shardfile.ReadAll(context.Background(), fs, path, fileOpts)
	require.NoError(t, err)
	return document.IDs(docs)
}

func TestRunWritesPartitionsAndManifests(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAccount(t, fs, "A", 25)
	writeAccount(t, fs, "B", 15)
	m := metrics.New(prometheus.NewRegistry())

	res, err := newInterleaver(fs, 2, 2, m).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 40, res.Total)
	assert.Equal(t, []int64{22, 18}, res.ShardCounts)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Accounts, 2)
	assert.Equal(t, []int{14, 11}, res.Accounts[0].ShardCounts)
	assert.Equal(t, []int{8, 7}, res.Accounts[1].ShardCounts)

	a0 := readIDs(t, fs, shardfile.PartitionPath("/parts", "A", 0))
	assert.Len(t, a0, 14)
	assert.Equal(t, "A-00", a0[0])
	assert.Equal(t, "A-13", a0[13])
	a1 := readIDs(t, fs, shardfile.PartitionPath("/parts", "A", 1))
	assert.Equal(t, "A-14", a1[0])

	man, err := ReadManifest(fs, "/parts", "A")
	require.NoError(t, err)
	assert.Equal(t, 25, man.Count)
	assert.Equal(t, 7, man.ChunkSize)
	man, err = ReadManifest(fs, "/parts", "B")
	require.NoError(t, err)
	assert.Equal(t, 4, man.ChunkSize)

	assert.Equal(t, 40.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues(stage)))
	assert.Equal(t, 22.0, testutil.ToFloat64(m.ShardRecords.WithLabelValues(stage, "0")))
}

func TestRunWritesEmptyPartitionsForSmallAccounts(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAccount(t, fs, "tiny", 2)

	res, err := newInterleaver(fs, 4, 1, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 0, 0}, res.ShardCounts)
	for s := 0; s < 4; s++ {
		n, err := shardfile.CountRows(fs, shardfile.PartitionPath("/parts", "tiny", s))
		require.NoError(t, err)
		assert.EqualValues(t, res.ShardCounts[s], n)
	}
}

func TestRunSkipsUnreadableAccount(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAccount(t, fs, "good", 6)
	require.NoError(t, afero.WriteFile(fs, "/raw/account_id=bad/data.json", []byte("{broken"), 0644))
	m := metrics.New(nil)

	res, err := newInterleaver(fs, 2, 1, m).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 6, res.Total)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "bad", res.Skipped[0].ID)
	assert.False(t, shardfile.Exists(fs, shardfile.ManifestPath("/parts", "bad")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitsSkippedTotal.WithLabelValues(stage, "read_write")))
}

func TestRunIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAccount(t, fs, "A", 31)
	writeAccount(t, fs, "B", 12)

	_, err := newInterleaver(fs, 3, 2, nil).Run(context.Background())
	require.NoError(t, err)
	first := readIDs(t, fs, shardfile.PartitionPath("/parts", "A", 1))

	_, err = newInterleaver(fs, 3, 2, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, readIDs(t, fs, shardfile.PartitionPath("/parts", "A", 1)))
}

func TestRunClearsAccountsGoneFromSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAccount(t, fs, "A", 8)
	writeAccount(t, fs, "B", 5)
	_, err := newInterleaver(fs, 2, 1, nil).Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, fs.RemoveAll("/raw/account_id=B"))
	res, err := newInterleaver(fs, 2, 1, nil).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 8, res.Total)

	gone, err := afero.DirExists(fs, shardfile.AccountDir("/parts", "B"))
	require.NoError(t, err)
	assert.False(t, gone)
	ids, err := shardfile.ListAccounts(fs, "/parts")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids)
}

func TestRunClearsPreviousPartitionsOfSkippedAccount(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeAccount(t, fs, "A", 8)
	writeAccount(t, fs, "B", 5)
	_, err := newInterleaver(fs, 2, 1, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, shardfile.Exists(fs, shardfile.PartitionPath("/parts", "B", 0)))

	require.NoError(t, afero.WriteFile(fs, "/raw/account_id=B/data.json", []byte("{broken"), 0644))
	res, err := newInterleaver(fs, 2, 1, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.False(t, shardfile.Exists(fs, shardfile.PartitionPath("/parts", "B", 0)))
	assert.False(t, shardfile.Exists(fs, shardfile.ManifestPath("/parts", "B")))
}

func TestRunWithoutAccounts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/raw", 0755))
	_, err := newInterleaver(fs, 2, 2, nil).Run(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrMissingInput)
}

func TestReadManifestMissing(t *testing.T) {
	_, err := ReadManifest(afero.NewMemMapFs(), "/parts", "nobody")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
