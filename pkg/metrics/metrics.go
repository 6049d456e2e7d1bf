// Package metrics defines the Prometheus collectors reported by every
// pipeline stage and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for a pipeline run.
type Metrics struct {
	RecordsTotal       *prometheus.CounterVec
	ShardRecords       *prometheus.GaugeVec
	StageDuration      *prometheus.HistogramVec
	UnitsSkippedTotal  *prometheus.CounterVec
	ExcessPoolRecords  prometheus.Gauge
	BalanceMovedTotal  prometheus.Counter
	ShardSpreadPercent prometheus.Gauge
	PublishedBytes     prometheus.Counter
	gatherer           prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// private registry, which keeps tests independent of each other.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardprep_records_total",
				Help: "Records written by each stage.",
			},
			[]string{"stage"},
		),
		ShardRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shardprep_shard_records",
				Help: "Record count of each shard after a stage.",
			},
			[]string{"stage", "shard"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shardprep_stage_duration_seconds",
				Help:    "Wall-clock duration of each stage.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"stage"},
		),
		UnitsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardprep_units_skipped_total",
				Help: "Accounts, partitions or shards skipped by stage and reason.",
			},
			[]string{"stage", "reason"},
		),
		ExcessPoolRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shardprep_excess_pool_records",
				Help: "Records collected into the balancing excess pool.",
			},
		),
		BalanceMovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shardprep_balance_moved_records_total",
				Help: "Records moved from source shards into sink shards.",
			},
		),
		ShardSpreadPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shardprep_shard_spread_percent",
				Help: "Spread between the largest and smallest final shard, in percent of the smallest.",
			},
		),
		PublishedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shardprep_published_bytes_total",
				Help: "Bytes uploaded to object storage.",
			},
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	reg.MustRegister(
		m.RecordsTotal,
		m.ShardRecords,
		m.StageDuration,
		m.UnitsSkippedTotal,
		m.ExcessPoolRecords,
		m.BalanceMovedTotal,
		m.ShardSpreadPercent,
		m.PublishedBytes,
	)
	return m
}

// ObserveShard records the record count of shard after stage.
func (m *Metrics) ObserveShard(stage string, shard int, records int64) {
	if m == nil {
		return
	}
	m.ShardRecords.WithLabelValues(stage, strconv.Itoa(shard)).Set(float64(records))
}

// AddRecords adds n to the per-stage record counter.
func (m *Metrics) AddRecords(stage string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(stage).Add(float64(n))
}

// ObserveStage records how long stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Skipped counts one unit skipped by stage for reason.
func (m *Metrics) Skipped(stage, reason string) {
	if m == nil {
		return
	}
	m.UnitsSkippedTotal.WithLabelValues(stage, reason).Inc()
}

// ExcessPoolRecordsSet records the size of the balancing pool.
func (m *Metrics) ExcessPoolRecordsSet(n int64) {
	if m == nil {
		return
	}
	m.ExcessPoolRecords.Set(float64(n))
}

// BalanceMovedAdd counts records moved into sink shards.
func (m *Metrics) BalanceMovedAdd(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BalanceMovedTotal.Add(float64(n))
}

// SpreadSet records the final max/min spread in percent.
func (m *Metrics) SpreadSet(pct float64) {
	if m == nil {
		return
	}
	m.ShardSpreadPercent.Set(pct)
}

// PublishedAdd counts uploaded bytes.
func (m *Metrics) PublishedAdd(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PublishedBytes.Add(float64(n))
}

// Handler returns the scrape handler for the registry m was created with,
// falling back to the default registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
