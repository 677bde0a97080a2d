// Package s3blob stores evidence bundles and audit-log archives in S3 or an
// S3-compatible store (MinIO, R2, iDrive e2).
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig locates the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers. A value
	// without a scheme gets one from UseSSL.
	Endpoint string
	Region   string
	Bucket   string
	// AccessKey and SecretKey are optional; without them the default AWS
	// credential chain applies.
	AccessKey string
	SecretKey string
	UseSSL    bool
	// ForcePathStyle is required by MinIO and iDrive e2.
	ForcePathStyle bool
}

// Client is an S3 client bound to the archive bucket.
type Client struct {
	api    *s3.Client
	bucket string
}

// New builds a Client. It does not contact the store; call Ping for that.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{api: api, bucket: cfg.Bucket}, nil
}

// Ping checks that the bucket exists and the credentials reach it.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
