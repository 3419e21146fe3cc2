package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"chunkupload/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Storage archives completed uploads to an S3-compatible bucket
// (AWS S3, MinIO, R2, ...). It implements upload.Archiver.
type S3Storage struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	publicURL     string
	presignExpiry time.Duration
}

type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Endpoint is set for S3-compatible services; path-style addressing is used then.
	Endpoint      string
	PresignExpiry time.Duration
}

// New builds the archive store from app config.
func New(ctx context.Context, c config.S3Config) (*S3Storage, error) {
	slog.Info("initializing S3 archive",
		"bucket", c.Bucket,
		"region", c.Region,
		"endpoint", c.Endpoint,
	)
	return NewS3Storage(ctx, S3Config{
		Region:        c.Region,
		Bucket:        c.Bucket,
		AccessKey:     c.AccessKey,
		SecretKey:     c.SecretKey,
		Endpoint:      c.Endpoint,
		PresignExpiry: c.PresignExpiry,
	})
}

func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	st := &S3Storage{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		publicURL:     publicBaseURL(cfg),
		presignExpiry: cfg.PresignExpiry,
	}

	if err := st.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return st, nil
}

func publicBaseURL(cfg S3Config) string {
	if cfg.Endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
}

func (s *S3Storage) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %q does not exist and could not be created: %w", s.bucket, err)
	}

	slog.Info("created S3 bucket", "bucket", s.bucket)
	return nil
}

// Save streams r to key. r should be seekable (an open blob file) so the
// SDK can sign the payload without buffering it.
func (s *S3Storage) Save(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// URL returns a presigned GET URL, or the plain object URL when presigning
// is off or fails.
func (s *S3Storage) URL(key string) string {
	if s.presignExpiry <= 0 {
		return s.objectURL(key)
	}
	url, err := s.PresignedURL(key, s.presignExpiry)
	if err != nil {
		slog.Warn("presign failed", "key", key, "error", err)
		return s.objectURL(key)
	}
	return url
}

func (s *S3Storage) objectURL(key string) string {
	return fmt.Sprintf("%s/%s", s.publicURL, key)
}

func (s *S3Storage) PresignedURL(key string, expiry time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign URL: %w", err)
	}
	return req.URL, nil
}
