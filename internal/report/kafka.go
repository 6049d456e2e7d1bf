package report

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/kafka"
)

// EventPublisher is the subset of the Kafka producer the event sink needs.
type EventPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// ShardReadyEvent announces one final shard.
type ShardReadyEvent struct {
	RunID   string    `json:"run_id"`
	Shard   int       `json:"shard"`
	Path    string    `json:"path"`
	Records int64     `json:"records"`
	ReadyAt time.Time `json:"ready_at"`
}

// KafkaSink publishes a shard.ready event per present shard and then a
// run.completed event carrying the whole summary. All events are keyed by
// run id. Failed runs only produce run.completed.
type KafkaSink struct {
	ShardReady   EventPublisher
	RunCompleted EventPublisher
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Emit(ctx context.Context, run *Run) error {
	if run.Status == StatusSucceeded {
		events := make([]kafka.Event, 0, len(run.Shards))
		for _, l := range run.Shards {
			if l.Missing || l.Path == "" {
				continue
			}
			events = append(events, kafka.Event{Key: run.ID, Value: ShardReadyEvent{
				RunID:   run.ID,
				Shard:   l.Shard,
				Path:    l.Path,
				Records: l.Final,
				ReadyAt: run.FinishedAt,
			}})
		}
		if err := s.ShardReady.Publish(ctx, events...); err != nil {
			return err
		}
	}
	return s.RunCompleted.Publish(ctx, kafka.Event{Key: run.ID, Value: run})
}
