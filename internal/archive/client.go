// Package archive provides best-effort cold storage of validation reports
// and audit records to an S3- or R2-compatible bucket. Archival failures
// are logged, never fatal: the databases remain the durable source of
// truth, archival only protects against unbounded local growth over time.
package archive

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config is the subset of application configuration archival needs.
type Config struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string // non-empty selects an R2-compatible endpoint
	AccessKeyID     string
	SecretAccessKey string
}

// Client uploads archive objects to the configured bucket.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewClient builds an archive Client from cfg. Returns an error if AWS
// config resolution fails; callers should skip archival entirely when
// cfg.Enabled is false rather than calling this.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:       s3Client,
		uploader: manager.NewUploader(s3Client),
		bucket:   cfg.Bucket,
	}, nil
}
