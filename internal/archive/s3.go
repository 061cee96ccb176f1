package archive

import (
	"context"
	"fmt"
	"os"
	gopath "path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// s3API is the slice of the S3 client the uploader needs.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader pushes run artifacts to an S3 bucket.
type Uploader struct {
	client s3API
	bucket string
	prefix string
	logger *zap.Logger
}

// S3Options selects the bucket and how to reach it. An empty AccessKey falls
// back to the default chain (environment, shared config, instance role); a
// non-empty Endpoint switches to path-style addressing for S3-compatible
// stores such as MinIO.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewUploader builds an uploader against S3 or an S3-compatible endpoint.
func NewUploader(ctx context.Context, opts S3Options, logger *zap.Logger) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewUploaderWithClient(client, opts.Bucket, opts.Prefix, logger), nil
}

// NewUploaderWithClient builds an uploader around an existing client.
func NewUploaderWithClient(client s3API, bucket, prefix string, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// UploadFile pushes one file and returns its object key.
func (u *Uploader) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	key := gopath.Join(u.prefix, filepath.Base(path))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(path)),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put s3://%s/%s: %w", u.bucket, key, err)
	}

	u.logger.Info("artifact uploaded",
		zap.String("bucket", u.bucket),
		zap.String("key", key))
	return key, nil
}

// UploadAll pushes every path, stopping at the first failure.
func (u *Uploader) UploadAll(ctx context.Context, paths []string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, path := range paths {
		key, err := u.UploadFile(ctx, path)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".zst":
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}
