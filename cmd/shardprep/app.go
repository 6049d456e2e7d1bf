package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/publish"
	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/report"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/redis"
)

// app holds what every subcommand shares once the config is loaded.
type app struct {
	fs      afero.Fs
	out     io.Writer
	cfg     *config.Config
	metrics *metrics.Metrics
	health  *health.Checker
	closers []io.Closer
}

func (a *app) load(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	a.metrics = metrics.New(nil)
	a.health = health.NewChecker()
	return nil
}

// pipeline builds a Pipeline. Report sinks and the uploader are only
// connected when withSinks is set, so stage commands never dial out.
func (a *app) pipeline(ctx context.Context, withSinks bool, reuse bool) (*pipeline.Pipeline, error) {
	opts := pipeline.Options{Metrics: a.metrics, Progress: a.health, ReusePartitions: reuse}
	if withSinks {
		opts.Sinks = a.sinks(ctx)
		up, err := publish.NewUploader(ctx, a.cfg.Publish)
		if err != nil {
			return nil, err
		}
		opts.Uploader = up
	}
	return pipeline.New(a.fs, a.cfg, opts), nil
}

// sinks connects every enabled report sink. A sink whose backend is
// unreachable is logged and left out.
func (a *app) sinks(ctx context.Context) []report.Sink {
	log := slog.Default().With("component", "cli")
	sinks := []report.Sink{&report.LogSink{Out: a.out}}
	rc := a.cfg.Report

	if rc.Redis {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redis.Dial(dialCtx, a.cfg.Redis)
		cancel()
		if err != nil {
			log.Warn("redis report sink disabled", "error", err)
		} else {
			a.closers = append(a.closers, client)
			a.health.Register("redis", client.Ping)
			sinks = append(sinks, &report.RedisSink{Store: client, Prefix: a.cfg.Redis.KeyPrefix, TTL: a.cfg.Redis.TTL})
		}
	}
	if rc.Kafka {
		ready := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topics.ShardReady)
		done := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topics.RunCompleted)
		a.closers = append(a.closers, ready, done)
		a.health.Register("kafka", ready.Ping)
		sinks = append(sinks, &report.KafkaSink{ShardReady: ready, RunCompleted: done})
	}
	if rc.Postgres {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		db, err := postgres.Open(dialCtx, a.cfg.Postgres)
		cancel()
		if err != nil {
			log.Warn("postgres report sink disabled", "error", err)
		} else {
			a.closers = append(a.closers, db)
			a.health.Register("postgres", db.Ping)
			store := report.NewPostgresStore(db)
			schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := store.EnsureSchema(schemaCtx)
			cancel()
			if err != nil {
				log.Warn("postgres report sink disabled", "error", err)
			} else {
				sinks = append(sinks, store)
			}
		}
	}
	return sinks
}

// statusHandler serves /metrics, /healthz and /readyz.
func (a *app) statusHandler() http.Handler {
	mux := metrics.NewMux(a.metrics)
	mux.Handle("/healthz", a.health.LiveHandler())
	mux.Handle("/readyz", middleware.Timeout(5*time.Second)(a.health.ReadyHandler()))
	return mux
}

// serve runs fn, alongside the status server when it is enabled. The
// server is stopped as soon as fn returns, and every client opened for
// the command is closed.
func (a *app) serve(ctx context.Context, fn func(ctx context.Context) error) error {
	defer a.close()
	if !a.cfg.Metrics.Enabled {
		return fn(ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	g.Go(func() error {
		return metrics.StartServer(srvCtx, a.cfg.Metrics.Port, a.statusHandler())
	})
	g.Go(func() error {
		defer stopServer()
		return fn(gctx)
	})
	return g.Wait()
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("closing client", "error", err)
		}
	}
	a.closers = nil
}
