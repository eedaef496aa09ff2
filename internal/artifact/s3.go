package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cuongbtq/compute-jobs/internal/config"
)

// S3Storage uploads artifacts to an S3 compatible bucket
type S3Storage struct {
	client    *s3.Client
	bucket    string
	endpoint  string
	region    string
	keyPrefix string
	logger    *slog.Logger
}

// NewS3Storage builds an S3 client. Static credentials are used when both
// keys are configured, otherwise the default AWS credential chain applies.
func NewS3Storage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	logger.Info("Initialized S3 artifact storage",
		slog.String("bucket", cfg.Bucket),
		slog.String("region", cfg.Region),
		slog.String("endpoint", cfg.Endpoint),
		slog.Bool("force_path_style", cfg.ForcePathStyle),
	)

	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		endpoint:  cfg.Endpoint,
		region:    cfg.Region,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

func (s *S3Storage) Upload(ctx context.Context, name string, data []byte) (*UploadResult, error) {
	key, contentType := objectKey(s.keyPrefix, name, data)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload artifact to S3: %w", err)
	}

	s.logger.Debug("Artifact uploaded to S3",
		slog.String("key", key),
		slog.String("bucket", s.bucket),
		slog.Int("size", len(data)),
	)

	return &UploadResult{
		Key:         key,
		URL:         s.objectURL(key),
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

func (s *S3Storage) objectURL(key string) string {
	if s.endpoint != "" {
		return joinURL(s.endpoint, s.bucket+"/"+key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *S3Storage) Kind() string {
	if strings.Contains(s.endpoint, "4566") || strings.Contains(s.endpoint, "localstack") {
		return "LocalStack S3"
	}
	return "AWS S3"
}
