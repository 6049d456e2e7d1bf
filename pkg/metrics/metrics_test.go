package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveShard("merge", 0, 10)
	m.AddRecords("merge", 10)
	m.ObserveStage("merge", time.Second)
	m.Skipped("merge", "missing_input")
	m.ExcessPoolRecordsSet(3)
	m.BalanceMovedAdd(3)
	m.SpreadSet(1)
	m.PublishedAdd(3)
}

func TestCollectorsAndHandler(t *testing.T) {
	m := New(nil)
	m.AddRecords("shuffle", 5)
	m.AddRecords("shuffle", 0)
	m.ObserveShard("balance", 7, 99)
	m.Skipped("interleave", "read_write")
	m.SpreadSet(2.5)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("shuffle")))
	assert.Equal(t, 99.0, testutil.ToFloat64(m.ShardRecords.WithLabelValues("balance", "7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitsSkippedTotal.WithLabelValues("interleave", "read_write")))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.ShardSpreadPercent))

	rec := httptest.NewRecorder()
	NewMux(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `shardprep_shard_records{shard="7",stage="balance"} 99`)

	rec = httptest.NewRecorder()
	NewMux(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, 0, NewMux(New(nil))) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
