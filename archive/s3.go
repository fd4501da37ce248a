package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultUploadTimeout = 2 * time.Minute

// S3Config holds the settings of an S3 archive.
type S3Config struct {
	Bucket string
	Region string
	// AccessKey and SecretKey are optional. Without them the default AWS
	// credential chain is used.
	AccessKey string
	SecretKey string
	// UploadTimeout bounds a single Put. Zero uses 2 minutes.
	UploadTimeout time.Duration
}

// Validate checks the configuration.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return ErrBucketRequired
	}
	if c.Region == "" {
		return ErrRegionRequired
	}
	return nil
}

// uploader is the part of manager.Uploader the archive uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 archives payloads to an S3 bucket.
type S3 struct {
	uploader uploader
	bucket   string
	region   string
	timeout  time.Duration
	logger   *slog.Logger
}

var _ Archive = (*S3)(nil)

// NewS3 creates an S3 archive.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3(manager.NewUploader(s3.NewFromConfig(awsCfg)), cfg, logger), nil
}

func newS3(up uploader, cfg S3Config, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	return &S3{
		uploader: up,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		timeout:  timeout,
		logger:   logger.With("component", "archive"),
	}
}

// Put implements Archive. The URI has the form s3://<bucket>/<key>.
func (a *S3) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	ctxUpload, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.uploader.Upload(ctxUpload, input); err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}
	a.logger.Debug("archived payload", "key", key, "bytes", len(data))
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
