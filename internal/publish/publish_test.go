package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/document"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/resilience"
)

type memUploader struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	failures int
	attempts int
}

func (m *memUploader) Name() string { return "mem" }

func (m *memUploader) Upload(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failures != 0 {
		if m.failures > 0 {
			m.failures--
		}
		return errors.New("503 slow down")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

var fileOpts = shardfile.Options{Dimension: 1, RowGroupSize: 4}

func seedShards(t *testing.T, fs afero.Fs, counts ...int) {
	t.Helper()
	for s, n := range counts {
		docs := make([]document.Document, n)
		for i := range docs {
			docs[i] = document.Document{ID: fmt.Sprintf("%d-%d", s, i), Embedding: []float32{1}}
		}
		require.NoError(t, shardfile.WriteAll(fs, shardfile.ShardPath("/final", "p", s), fileOpts, docs))
	}
}

func newPublisher(fs afero.Fs, up Uploader, shards int, m *metrics.Metrics) *Publisher {
	return New(fs, up, Config{
		Dir:        "/final",
		FilePrefix: "p",
		Shards:     shards,
		Prefix:     "bench/v1",
		Retry:      resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
		Breaker:    resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	}, m)
}

func TestPublishUploadsShardsThenManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedShards(t, fs, 3, 5)
	up := &memUploader{}
	m := metrics.New(nil)

	man, err := newPublisher(fs, up, 2, m).Run(context.Background(), "run-9")
	require.NoError(t, err)
	require.Len(t, man.Objects, 2)
	assert.Equal(t, "bench/v1/run-9/p_01.parquet", man.Objects[1].Key)
	assert.EqualValues(t, 8, man.Total)

	local, err := afero.ReadFile(fs, shardfile.ShardPath("/final", "p", 0))
	require.NoError(t, err)
	assert.Equal(t, local, up.objects["bench/v1/run-9/p_00.parquet"])
	assert.EqualValues(t, len(local), man.Objects[0].Bytes)

	raw := up.objects["bench/v1/run-9/"+ManifestKey]
	require.NotNil(t, raw)
	assert.Equal(t, "application/json", up.types["bench/v1/run-9/"+ManifestKey])
	var decoded Manifest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-9", decoded.RunID)
	assert.EqualValues(t, 3, decoded.Objects[0].Records)

	assert.Greater(t, testutil.ToFloat64(m.PublishedBytes), float64(len(local)))
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedShards(t, fs, 2)
	up := &memUploader{failures: 1}

	_, err := newPublisher(fs, up, 1, nil).Run(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 3, up.attempts)
	assert.Len(t, up.objects, 2)
}

func TestPublishStopsWhenBreakerOpens(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedShards(t, fs, 2, 2)
	up := &memUploader{failures: -1}

	_, err := newPublisher(fs, up, 2, nil).Run(context.Background(), "r")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, up.attempts)
	assert.Empty(t, up.objects)
}

func TestPublishRefusesIncompleteSet(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedShards(t, fs, 2)
	up := &memUploader{}

	_, err := newPublisher(fs, up, 2, nil).Run(context.Background(), "r")
	assert.ErrorIs(t, err, apperrors.ErrMissingInput)
	assert.NotContains(t, up.objects, "bench/v1/r/"+ManifestKey)
}

func TestNewUploaderSelectsBackend(t *testing.T) {
	up, err := NewUploader(context.Background(), config.PublishConfig{})
	require.NoError(t, err)
	assert.Nil(t, up)

	up, err = NewUploader(context.Background(), config.PublishConfig{Backend: "minio", Endpoint: "localhost:9000", Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "minio", up.Name())

	_, err = NewUploader(context.Background(), config.PublishConfig{Backend: "ftp"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}
