package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// HashStore is the subset of the Redis client the summary cache needs.
type HashStore interface {
	PutHash(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisSink caches each run as the hash <prefix>:run:<id> and points
// <prefix>:latest at it.
type RedisSink struct {
	Store  HashStore
	Prefix string
	TTL    time.Duration
}

func (s *RedisSink) Name() string { return "redis" }

// RunKey returns the hash key of run id.
func (s *RedisSink) RunKey(id string) string {
	return s.Prefix + ":run:" + id
}

func (s *RedisSink) Emit(ctx context.Context, run *Run) error {
	shards, err := json.Marshal(run.Shards)
	if err != nil {
		return fmt.Errorf("encoding shards: %w", err)
	}
	fields := map[string]any{
		"mode":             run.Mode,
		"status":           run.Status,
		"error":            run.Error,
		"started_at":       run.StartedAt.UTC().Format(time.RFC3339),
		"finished_at":      run.FinishedAt.UTC().Format(time.RFC3339),
		"accounts":         run.Accounts,
		"skipped_accounts": run.SkippedAccounts,
		"total":            run.Total,
		"min":              run.Min,
		"max":              run.Max,
		"spread_pct":       strconv.FormatFloat(run.SpreadPct, 'f', 4, 64),
		"moved":            run.Moved,
		"undersupply":      run.Undersupply,
		"shards":           string(shards),
	}
	if err := s.Store.PutHash(ctx, s.RunKey(run.ID), fields, s.TTL); err != nil {
		return err
	}
	return s.Store.Set(ctx, s.Prefix+":latest", run.ID, s.TTL)
}
