package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Uploader copies captured photos to an S3 compatible bucket (AWS, MinIO),
// so a stolen or broken Pi does not take the evidence with it.
type S3Uploader struct {
	client     *s3.Client
	bucket     string
	prefix     string
	maxRetries int
}

// S3Config holds the settings of the photo mirror.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint is optional, for MinIO or LocalStack.
	Endpoint string
	// UsePathStyle is required by MinIO.
	UsePathStyle bool
}

// NewS3Uploader loads AWS credentials the usual way (env, shared config,
// instance role) and builds the client.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Uploader{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		maxRetries: 3,
	}, nil
}

// Upload puts the file at localPath under prefix/key.
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	defer file.Close()

	objectKey := path.Join(u.prefix, key)
	return retryWithBackoff(ctx, u.maxRetries, func() error {
		// Rewind for the retry.
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(objectKey),
			Body:        file,
			ContentType: aws.String("image/jpeg"),
		})
		return err
	})
}

// retryWithBackoff runs op up to maxRetries+1 times, sleeping 100ms, 200ms,
// 400ms... between attempts.
func retryWithBackoff(ctx context.Context, maxRetries int, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
