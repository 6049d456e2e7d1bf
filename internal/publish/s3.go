package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Adithya-Monish-Kumar-K/shardprep/pkg/config"
)

// partSize is the multipart chunk for shard uploads.
const partSize = 16 * 1024 * 1024

// S3Uploader writes objects with the AWS SDK multipart upload manager.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
}

// NewS3Uploader loads the default AWS credential chain. Static keys in cfg
// take precedence, and a non-empty Endpoint selects an S3-compatible
// service with path-style addressing.
func NewS3Uploader(ctx context.Context, cfg config.PublishConfig) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: cfg.Bucket,
	}, nil
}

func (u *S3Uploader) Name() string { return "s3" }

func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader, _ int64, contentType string) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s/%s: %w", u.bucket, key, err)
	}
	return nil
}
