package shardfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
)

func testOptions() Options {
	return Options{Dimension: 4, Compression: "zstd", RowGroupSize: 3, ReadBatch: 2}
}

func makeDocs(prefix string, n int) []document.Document {
	docs := make([]document.Document, n)
	for i := range docs {
		docs[i] = document.Document{
			ID:             fmt.Sprintf("%s-%03d", prefix, i),
			Embedding:      []float32{float32(i), 0.5, -1, 2},
			Tenant:         "t",
			AccountID:      7,
			WorkspaceID:    int64(i),
			TicketID:       int64(1000 + i),
			TicketType:     "incident",
			TicketStatus:   "open",
			CatalogItemIDs: []int64{int64(i), int64(i + 1)},
			CreatedAt:      "2024-01-02T03:04:05Z",
		}
	}
	return docs
}

func TestWriteAllReadAllRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := ShardPath("/merged", "shuffle_train", 3)
	docs := makeDocs("a", 8)

	require.NoError(t, WriteAll(fs, path, testOptions(), docs))

	got, err := ReadAll(context.Background(), fs, path, testOptions())
	require.NoError(t, err)
	assert.Equal(t, docs, got)

	exists, _ := afero.Exists(fs, path+".tmp")
	assert.False(t, exists, "temp file must be renamed away")
}

func TestWriterEmptyFileIsReadable(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/p/empty.parquet"
	require.NoError(t, WriteAll(fs, path, testOptions(), nil))

	n, err := CountRows(fs, path)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := ReadAll(context.Background(), fs, path, testOptions())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriterRowsAndCountRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/p/rows.parquet"
	w, err := Create(fs, path, testOptions())
	require.NoError(t, err)
	require.NoError(t, w.Write(makeDocs("x", 4)...))
	require.NoError(t, w.Write(makeDocs("y", 3)...))
	assert.EqualValues(t, 7, w.Rows())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	n, err := CountRows(fs, path)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
}

func TestAbortKeepsPreviousFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/p/keep.parquet"
	require.NoError(t, WriteAll(fs, path, testOptions(), makeDocs("old", 2)))

	w, err := Create(fs, path, testOptions())
	require.NoError(t, err)
	require.NoError(t, w.Write(makeDocs("new", 5)...))
	w.Abort()

	got, err := ReadAll(context.Background(), fs, path, testOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"old-000", "old-001"}, document.IDs(got))
}

func TestReaderBatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/p/batches.parquet"
	require.NoError(t, WriteAll(fs, path, testOptions(), makeDocs("b", 5)))

	r, err := Open(context.Background(), fs, path, testOptions())
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 5, r.NumRows())

	var total int
	for {
		batch, err := r.Next(nil)
		total += len(batch)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		assert.LessOrEqual(t, len(batch), 3)
	}
	assert.Equal(t, 5, total)
}

func TestForEachIDBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/p/ids.parquet"
	docs := makeDocs("id", 6)
	require.NoError(t, WriteAll(fs, path, testOptions(), docs))

	var ids []string
	err := ForEachIDBatch(context.Background(), fs, path, testOptions(), func(batch []string) error {
		ids = append(ids, batch...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, document.IDs(docs), ids)
}

func TestMissingFileIsMissingInput(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := ReadAll(context.Background(), fs, "/nope.parquet", testOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMissingInput))

	_, err = CountRows(fs, "/nope.parquet")
	assert.ErrorIs(t, err, apperrors.ErrMissingInput)
	assert.False(t, Exists(fs, "/nope.parquet"))
}

func TestCorruptFileIsReadWriteFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.parquet", []byte("not parquet at all"), 0644))

	_, err := CountRows(fs, "/bad.parquet")
	assert.ErrorIs(t, err, apperrors.ErrReadWrite)
}

func TestLayout(t *testing.T) {
	assert.Equal(t, "/m/shuffle_train_07.parquet", ShardPath("/m", "shuffle_train", 7))
	assert.Equal(t, "/p/account_42_dataset", AccountDir("/p", "42"))
	assert.Equal(t, "/p/account_42_dataset/42_part_03.parquet", PartitionPath("/p", "42", 3))
	assert.Equal(t, "/p/account_42_dataset/manifest.json", ManifestPath("/p", "42"))
}

func TestListAccounts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(AccountDir("/p", "b"), 0755))
	require.NoError(t, fs.MkdirAll(AccountDir("/p", "a"), 0755))
	require.NoError(t, fs.MkdirAll("/p/other", 0755))
	require.NoError(t, afero.WriteFile(fs, "/p/account_c_dataset", nil, 0644))

	ids, err := ListAccounts(fs, "/p")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	_, err = ListAccounts(fs, "/missing")
	assert.ErrorIs(t, err, apperrors.ErrMissingInput)
}
