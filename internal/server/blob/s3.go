package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"

	"github.com/mzakharov/filevault/internal/shared"
)

// S3Config holds the settings for an S3-compatible backend (AWS, MinIO).
type S3Config struct {
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// S3Store implements Store over an S3-compatible object store. Transient
// request failures are retried here with capped backoff; the core itself
// never retries storage calls.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3 client from static credentials.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) backoff() retry.Backoff {
	b := retry.NewExponential(200 * time.Millisecond)
	b = retry.WithMaxRetries(3, b)
	return b
}

func (s *S3Store) Put(ctx context.Context, locator string, r io.Reader) error {
	// the body reader cannot be rewound, so Put itself is not retried;
	// only the caller holds the plaintext source
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("blob put %s: %w", locator, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	var body io.ReadCloser

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(locator),
		})
		if err != nil {
			var noKey *types.NoSuchKey
			if errors.As(err, &noKey) {
				return shared.ErrNotFound
			}
			return retry.RetryableError(err)
		}
		body = out.Body
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("blob get %s: %w", locator, err)
	}
	return body, nil
}

func (s *S3Store) Delete(ctx context.Context, locator string) error {
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(locator),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("blob delete %s: %w", locator, err)
	}
	return nil
}
