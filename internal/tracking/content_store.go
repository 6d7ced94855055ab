package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/mail-manager/internal/config"
)

// s3API is the subset of the S3 client the content store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ContentStore writes pre-rewrite email bodies to S3, keyed by day
// and correlation hash so retention can prune whole prefixes.
type S3ContentStore struct {
	client s3API
	bucket string
	folder string
}

// NewS3ContentStore builds a content store on an existing S3 client.
func NewS3ContentStore(client s3API, cfg config.TrackingConfig) *S3ContentStore {
	return &S3ContentStore{client: client, bucket: cfg.S3Bucket, folder: strings.Trim(cfg.S3Folder, "/")}
}

// Store uploads one body and returns its object key.
func (s *S3ContentStore) Store(ctx context.Context, hash, html string) (string, error) {
	key := fmt.Sprintf("%s/%s/%s.html", s.folder, time.Now().UTC().Format("2006/01/02"), hash)
	if s.folder == "" {
		key = strings.TrimPrefix(key, "/")
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(html),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("upload content %s: %w", key, err)
	}
	return key, nil
}
