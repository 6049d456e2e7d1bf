package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
)

// MinIOUploader writes objects with minio-go.
type MinIOUploader struct {
	client *minio.Client
	bucket string
}

// NewMinIOUploader connects to cfg.Endpoint with static credentials.
func NewMinIOUploader(cfg config.PublishConfig) (*MinIOUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client for %s: %w", cfg.Endpoint, err)
	}
	return &MinIOUploader{client: client, bucket: cfg.Bucket}, nil
}

func (u *MinIOUploader) Name() string { return "minio" }

func (u *MinIOUploader) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := u.client.PutObject(ctx, u.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("minio put %s/%s: %w", u.bucket, key, err)
	}
	return nil
}
