// Package archive copies export files to an S3 bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ppiankov/cx1export/internal/retry"
)

// DefaultConcurrency is the number of parallel uploads.
const DefaultConcurrency = 4

var contentTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".json": "application/json",
}

// Uploader puts files under a bucket prefix.
type Uploader struct {
	client      *Client
	bucket      string
	prefix      string
	concurrency int
	policy      retry.Policy
	logger      *slog.Logger
}

// NewUploader creates an uploader writing to bucket under prefix.
func NewUploader(client *Client, bucket, prefix string, concurrency int) (*Uploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	u := &Uploader{
		client:      client,
		bucket:      bucket,
		prefix:      strings.Trim(prefix, "/"),
		concurrency: concurrency,
		logger:      slog.Default(),
	}
	u.SetRetryPolicy(retry.Default())
	return u, nil
}

// SetRetryPolicy sets the per-file retry policy. Only transient S3 errors
// are retried.
func (u *Uploader) SetRetryPolicy(p retry.Policy) {
	p.Retryable = isRetryableError
	u.policy = p
}

// SetLogger sets the logger.
func (u *Uploader) SetLogger(logger *slog.Logger) {
	if logger != nil {
		u.logger = logger
	}
}

// Key returns the object key of a local file.
func (u *Uploader) Key(file string) string {
	if u.prefix == "" {
		return filepath.Base(file)
	}
	return path.Join(u.prefix, filepath.Base(file))
}

// Upload puts every file and returns their s3:// locations in input order.
// Files that fail are left out and their errors joined.
func (u *Uploader) Upload(ctx context.Context, paths []string) ([]string, error) {
	locations := make([]string, len(paths))
	semaphore := make(chan struct{}, u.concurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			key := u.Key(p)
			err := u.policy.Do(ctx, func() error {
				return u.put(ctx, p, key)
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("uploading %s to s3://%s/%s: %w", p, u.bucket, key, err))
				mu.Unlock()
				return
			}
			locations[i] = fmt.Sprintf("s3://%s/%s", u.bucket, key)
			u.logger.Debug("Archived export file", slog.String("file", p), slog.String("key", key))
		}(i, p)
	}
	wg.Wait()

	uploaded := make([]string, 0, len(paths))
	for _, loc := range locations {
		if loc != "" {
			uploaded = append(uploaded, loc)
		}
	}
	return uploaded, errors.Join(errs...)
}

func (u *Uploader) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(file))]; ok {
		input.ContentType = aws.String(ct)
	}
	_, err = u.client.s3Client.PutObject(ctx, input)
	return err
}
