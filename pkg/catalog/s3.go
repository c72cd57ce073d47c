package catalog

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/storage"
)

// S3Source fetches a catalog document from object storage
type S3Source struct {
	client *s3.Client
	bucket string
	key    string

	mu   sync.Mutex
	etag string
}

// NewS3Source creates a source for the s3://bucket/key in cfg.CatalogPath
func NewS3Source(ctx context.Context, cfg storage.Config) (*S3Source, error) {
	bucket, key, err := cfg.S3Location()
	if err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials, for MinIO or explicit keys
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	return &S3Source{client: client, bucket: bucket, key: key}, nil
}

// Fetch downloads the catalog document and reports whether its ETag differs
// from the last document applied by Refresh
func (s *S3Source) Fetch(ctx context.Context) (data []byte, changed bool, err error) {
	data, etag, err := s.get(ctx)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return data, etag == "" || etag != s.etag, nil
}

// Refresh fetches the document and swaps it into c when it changed. The ETag
// is only remembered once the new document parsed, so a broken upload is
// retried on the next refresh.
func (s *S3Source) Refresh(ctx context.Context, c *Catalog) (bool, error) {
	data, etag, err := s.get(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if etag != "" && etag == s.etag {
		return false, nil
	}

	prices, err := Parse(data)
	if err != nil {
		return false, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key, err)
	}
	c.Replace(prices)
	s.etag = etag
	return true, nil
}

// Load fetches the document and builds a new catalog from it
func (s *S3Source) Load(ctx context.Context) (*Catalog, error) {
	c := New(nil)
	if _, err := s.Refresh(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *S3Source) get(ctx context.Context) (data []byte, etag string, err error) {
	ctx, span := observability.StartSpan(ctx, "S3.GetObject",
		attribute.String("s3.bucket", s.bucket),
		attribute.String("s3.key", s.key),
	)
	defer func() { observability.EndSpan(span, err) }()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get catalog from s3: %w", err)
	}
	defer result.Body.Close()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read catalog from s3: %w", err)
	}

	etag = aws.ToString(result.ETag)
	span.SetAttributes(attribute.Int("content.size", len(data)))
	return data, etag, nil
}
