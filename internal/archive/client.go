package archive

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client wraps the AWS S3 client used for archiving exports
type Client struct {
	s3Client *s3.Client
	config   aws.Config
}

// NewClient creates an S3 client from the default credential chain, using
// profile and region when set
func NewClient(ctx context.Context, profile, region string) (*Client, error) {
	opts := []func(*config.LoadOptions) error{}

	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		config:   cfg,
	}, nil
}

// Region returns the configured region
func (c *Client) Region() string {
	return c.config.Region
}

// isRetryableError reports whether an S3 error is worth another attempt
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryableErrors := []string{
		"RequestLimitExceeded",
		"ServiceUnavailable",
		"SlowDown",
		"RequestTimeout",
		"TooManyRequests",
		"InternalError",
		"StatusCode: 500",
		"StatusCode: 503",
		"StatusCode: 429",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
