package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for the S3 package source.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// PackageSource reads application package archives from S3-compatible
// object storage.
type PackageSource struct {
	client *s3.Client
	bucket string
}

// NewPackageSource creates a package source. Without static keys the
// default AWS credential chain is used.
func NewPackageSource(ctx context.Context, cfg S3Config) (*PackageSource, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 package source: bucket is required")
	}
	override := func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}

	var client *s3.Client
	if cfg.AccessKeyID != "" {
		client = s3.New(s3.Options{
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		}, override)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, override)
	}

	return &PackageSource{client: client, bucket: cfg.Bucket}, nil
}

// Open returns a reader streaming the object at key.
// The caller must close the reader when done.
func (s *PackageSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download package %s from S3: %w", key, err)
	}
	return resp.Body, nil
}

// Put uploads a local package archive to key and returns its size in bytes.
func (s *PackageSource) Put(ctx context.Context, key, localPath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open package file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat package file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload package %s to S3: %w", key, err)
	}
	return stat.Size(), nil
}

// Delete removes the object at key.
func (s *PackageSource) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete package %s from S3: %w", key, err)
	}
	return nil
}
