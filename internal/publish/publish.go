// Package publish uploads the final shard set to object storage, followed
// by a manifest object listing every shard and its row count. Consumers
// treat the manifest as the completion marker.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Adithya-Monish-Kumar-K/shardprep/internal/shardfile"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/shardprep/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/resilience"
)

// ManifestKey is the object name of the shard listing under a run prefix.
const ManifestKey = "manifest.json"

// Uploader stores one object.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Config locates the shards to publish and where they go.
type Config struct {
	Dir        string
	FilePrefix string
	Shards     int
	Prefix     string
	Retry      resilience.RetryConfig
	Breaker    resilience.BreakerConfig
}

// Object describes one uploaded shard.
type Object struct {
	Shard   int    `json:"shard"`
	Key     string `json:"key"`
	Bytes   int64  `json:"bytes"`
	Records int64  `json:"records"`
}

// Manifest is uploaded last.
type Manifest struct {
	RunID       string    `json:"run_id"`
	Objects     []Object  `json:"objects"`
	Total       int64     `json:"total"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher uploads shard files through an Uploader.
type Publisher struct {
	fs      afero.Fs
	up      Uploader
	cfg     Config
	breaker *resilience.Breaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Publisher. m may be nil.
func New(fs afero.Fs, up Uploader, cfg Config, m *metrics.Metrics) *Publisher {
	return &Publisher{
		fs:      fs,
		up:      up,
		cfg:     cfg,
		breaker: resilience.NewBreaker("publish-"+up.Name(), cfg.Breaker),
		metrics: m,
		logger:  slog.Default().With("component", "publish", "backend", up.Name()),
	}
}

// Key returns the object key of name for runID.
func (p *Publisher) Key(runID, name string) string {
	return path.Join(p.cfg.Prefix, runID, name)
}

// Run uploads every shard and then the manifest. Every shard must exist: a
// partial set is never published.
func (p *Publisher) Run(ctx context.Context, runID string) (*Manifest, error) {
	man := &Manifest{RunID: runID}
	for s := 0; s < p.cfg.Shards; s++ {
		src := shardfile.ShardPath(p.cfg.Dir, p.cfg.FilePrefix, s)
		records, err := shardfile.CountRows(p.fs, src)
		if err != nil {
			return nil, fmt.Errorf("publishing shard %d: %w", s, err)
		}
		obj := Object{Shard: s, Key: p.Key(runID, filepath.Base(src)), Records: records}
		if obj.Bytes, err = p.uploadFile(ctx, src, obj.Key); err != nil {
			return nil, err
		}
		man.Objects = append(man.Objects, obj)
		man.Total += records
		p.logger.Info("shard published", "shard", s, "key", obj.Key, "bytes", obj.Bytes, "records", records)
	}

	man.PublishedAt = time.Now().UTC()
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding publish manifest: %w", err)
	}
	key := p.Key(runID, ManifestKey)
	err = p.upload(ctx, key, func() (io.Reader, int64, error) {
		return bytes.NewReader(data), int64(len(data)), nil
	}, "application/json")
	if err != nil {
		return nil, err
	}
	p.logger.Info("publish complete", "objects", len(man.Objects), "total", man.Total, "manifest", key)
	return man, nil
}

func (p *Publisher) uploadFile(ctx context.Context, src, key string) (int64, error) {
	var size int64
	var f afero.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()
	err := p.upload(ctx, key, func() (io.Reader, int64, error) {
		if f != nil {
			f.Close()
		}
		var err error
		if f, err = p.fs.Open(src); err != nil {
			return nil, 0, fmt.Errorf("%w: opening %s: %v", apperrors.ErrReadWrite, src, err)
		}
		info, err := f.Stat()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: stat %s: %v", apperrors.ErrReadWrite, src, err)
		}
		size = info.Size()
		return f, size, nil
	}, "application/vnd.apache.parquet")
	return size, err
}

// upload retries through the breaker. body is called once per attempt so
// every attempt starts from a fresh reader.
func (p *Publisher) upload(ctx context.Context, key string, body func() (io.Reader, int64, error), contentType string) error {
	retry := p.cfg.Retry
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, resilience.ErrCircuitOpen) && !errors.Is(err, apperrors.ErrReadWrite)
	}
	var sent int64
	err := resilience.Retry(ctx, "upload "+key, retry, func() error {
		return p.breaker.Do(ctx, func(ctx context.Context) error {
			r, size, err := body()
			if err != nil {
				return err
			}
			if err := p.up.Upload(ctx, key, r, size, contentType); err != nil {
				return err
			}
			sent = size
			return nil
		})
	})
	if err != nil {
		p.metrics.Skipped("publish", "upload_failed")
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	p.metrics.PublishedAdd(sent)
	return nil
}

// NewUploader returns the uploader selected by cfg.Backend, or nil when
// publishing is disabled.
func NewUploader(ctx context.Context, cfg config.PublishConfig) (Uploader, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		u, err := NewMinIOUploader(cfg)
		if err != nil {
			return nil, err
		}
		return u, nil
	case "s3":
		u, err := NewS3Uploader(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return u, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.ExitInvalidConfig,
			"unknown publish backend %q", cfg.Backend)
	}
}
