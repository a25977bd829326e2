package repositories

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var errEmptyPayload = errors.New("empty payload")

// S3Repository archives raw page payloads submitted with analysis tasks.
type S3Repository struct {
	client *s3.Client
}

func NewS3Repository(cfg aws.Config, optFns ...func(*s3.Options)) *S3Repository {
	pathStyle := func(o *s3.Options) { o.UsePathStyle = true }
	return &S3Repository{client: s3.NewFromConfig(cfg, append([]func(*s3.Options){pathStyle}, optFns...)...)}
}

// ArchivePayload stores data under bucket/key and returns its s3:// location.
func (r *S3Repository) ArchivePayload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	location := fmt.Sprintf("s3://%s/%s", bucket, key)
	if len(data) == 0 {
		return "", fmt.Errorf("failed to archive %s: %w", location, errEmptyPayload)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	if _, err := r.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", location, err)
	}
	return location, nil
}
