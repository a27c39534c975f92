package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/contractdesk/audittrail/pkg/storage")

// S3Store keeps document blobs in an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3-backed blob store.
func NewS3Store(cfg Config) (*S3Store, error) {
	ctx := context.Background()

	var awsConfig aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials (MinIO or AWS with explicit keys)
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.S3Bucket,
	}, nil
}

// Put uploads content under the given handle.
func (s *S3Store) Put(ctx context.Context, handle string, content io.Reader) error {
	ctx, span := tracer.Start(ctx, "S3.Put",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", handle),
		),
	)
	defer span.End()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
		Body:   content,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "object uploaded")
	return nil
}

// Get retrieves content by handle.
func (s *S3Store) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "S3.Get",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", handle),
		),
	)
	defer span.End()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			span.SetStatus(codes.Error, "object not found")
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, handle)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch from s3")
		return nil, fmt.Errorf("failed to fetch from s3: %w", err)
	}

	span.SetStatus(codes.Ok, "object fetched")
	return result.Body, nil
}

// Delete removes content by handle. S3 deletion of an absent key already
// succeeds; a NoSuchKey from an S3-compatible store is mapped to success so
// purge retries stay idempotent.
func (s *S3Store) Delete(ctx context.Context, handle string) error {
	ctx, span := tracer.Start(ctx, "S3.Delete",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", handle),
		),
	)
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(handle),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			span.SetStatus(codes.Ok, "object already gone")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete from s3")
		return fmt.Errorf("failed to delete from s3: %w", err)
	}

	span.SetStatus(codes.Ok, "object deleted")
	return nil
}
