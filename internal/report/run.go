package report

import (
	"slices"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/verify"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ShardLine is one shard of a run as every sink sees it.
type ShardLine struct {
	Shard   int    `json:"shard"`
	Path    string `json:"path"`
	Merged  int64  `json:"merged"`
	Final   int64  `json:"final"`
	Role    string `json:"role,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// Run is the summary of one pipeline run.
type Run struct {
	ID              string      `json:"run_id"`
	Mode            string      `json:"mode"`
	Status          string      `json:"status"`
	Error           string      `json:"error,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
	Accounts        int         `json:"accounts"`
	SkippedAccounts int         `json:"skipped_accounts"`
	Interleaved     int64       `json:"interleaved"`
	Shards          []ShardLine `json:"shards"`
	Total           int64       `json:"total"`
	Min             int64       `json:"min"`
	Max             int64       `json:"max"`
	SpreadPct       float64     `json:"spread_pct"`
	Moved           int64       `json:"moved"`
	Undersupply     int64       `json:"undersupply"`
	Audited         bool        `json:"audited"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ApplyVerification copies the final shard counts of sum into r.
func (r *Run) ApplyVerification(sum *verify.Summary) {
	if sum == nil {
		return
	}
	r.Total = sum.Total
	r.Min = sum.Min
	r.Max = sum.Max
	r.SpreadPct = sum.SpreadPct
	for _, sc := range sum.Shards {
		line := r.line(sc.Shard)
		line.Path = sc.Path
		line.Final = sc.Records
		line.Missing = sc.Missing
	}
}

// SetMerged records the merged record count of shard.
func (r *Run) SetMerged(shard int, records int64) {
	r.line(shard).Merged = records
}

// SetRole records the balancing role of shard.
func (r *Run) SetRole(shard int, role string) {
	r.line(shard).Role = role
}

// line returns the entry of shard, inserting it so Shards stays ordered.
func (r *Run) line(shard int) *ShardLine {
	i := sort.Search(len(r.Shards), func(i int) bool { return r.Shards[i].Shard >= shard })
	if i == len(r.Shards) || r.Shards[i].Shard != shard {
		r.Shards = slices.Insert(r.Shards, i, ShardLine{Shard: shard})
	}
	return &r.Shards[i]
}
