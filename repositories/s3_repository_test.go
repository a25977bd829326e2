package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockS3(output interface{}, err error) *S3Repository {
	return NewS3Repository(aws.Config{Region: "us-east-1"}, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, mockAWSMiddleware(output, err))
	})
}

func TestS3Repository_ArchivePayload(t *testing.T) {
	repo := newMockS3(&s3.PutObjectOutput{}, nil)
	path, err := repo.ArchivePayload(context.TODO(), "payloads", "tasks/abc.html", []byte("<html></html>"), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "s3://payloads/tasks/abc.html", path)

	repoErr := newMockS3(nil, errors.New("access denied"))
	_, err = repoErr.ArchivePayload(context.TODO(), "payloads", "tasks/abc.html", []byte("x"), "text/html")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to archive s3://payloads/tasks/abc.html")
}

func TestS3Repository_ArchivePayload_Empty(t *testing.T) {
	repo := newMockS3(&s3.PutObjectOutput{}, nil)
	_, err := repo.ArchivePayload(context.TODO(), "payloads", "tasks/abc.html", nil, "text/html")
	assert.ErrorIs(t, err, errEmptyPayload)
}
