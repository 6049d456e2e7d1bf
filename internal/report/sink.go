package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/resilience"
)

// Sink receives the summary of a finished run.
type Sink interface {
	Name() string
	Emit(ctx context.Context, run *Run) error
}

// Dispatch sends run to every sink, each bounded by timeout. Sink failures
// are logged and joined into the returned error; they never stop the other
// sinks.
func Dispatch(ctx context.Context, timeout time.Duration, run *Run, sinks ...Sink) error {
	logger := slog.Default().With("component", "report")
	var errs []error
	for _, s := range sinks {
		err := resilience.WithTimeout(ctx, timeout, "report-"+s.Name(), func(ctx context.Context) error {
			return s.Emit(ctx, run)
		})
		if err != nil {
			logger.Error("report sink failed", "sink", s.Name(), "run_id", run.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
			continue
		}
		logger.Debug("report delivered", "sink", s.Name(), "run_id", run.ID)
	}
	return errors.Join(errs...)
}

// LogSink logs the run summary and, when Out is set, prints the document
// count table.
type LogSink struct {
	Logger *slog.Logger
	Out    io.Writer
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, run *Run) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("run finished",
		"run_id", run.ID,
		"mode", run.Mode,
		"status", run.Status,
		"accounts", run.Accounts,
		"skipped_accounts", run.SkippedAccounts,
		"total", run.Total,
		"min", run.Min,
		"max", run.Max,
		"spread_pct", fmt.Sprintf("%.2f", run.SpreadPct),
		"moved", run.Moved,
		"undersupply", run.Undersupply,
		"duration", run.Duration(),
	)
	if s.Out == nil || len(run.Shards) == 0 {
		return nil
	}
	counts := make([]ShardCount, 0, len(run.Shards))
	for _, l := range run.Shards {
		n := l.Final
		if n == 0 && l.Merged > 0 {
			n = l.Merged
		}
		counts = append(counts, ShardCount{Shard: l.Shard, Records: n})
	}
	_, err := fmt.Fprintln(s.Out, DocCounts("DOC COUNTS FOR THIS RUN", counts))
	return err
}
