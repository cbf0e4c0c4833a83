package report

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader archives run artefacts under <prefix>/<job>/<run>/ in a bucket
type S3Uploader struct {
	client objectPutter
	bucket string
	prefix string
}

func NewS3Uploader(client objectPutter, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key a local file is stored under
func (u *S3Uploader) Key(jobID, runID, file string) string {
	parts := []string{fileName(jobID), runID, filepath.Base(file)}
	if u.prefix != "" {
		parts = append([]string{u.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Upload puts each file and returns the uploaded keys; it stops at the first failure
func (u *S3Uploader) Upload(ctx context.Context, jobID, runID string, files ...string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return keys, fmt.Errorf("opening %s: %w", file, err)
		}

		key := u.Key(jobID, runID, file)
		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType(file)),
		})
		f.Close()
		if err != nil {
			return keys, fmt.Errorf("uploading %s to s3://%s/%s: %w", file, u.bucket, key, err)
		}

		zap.L().Info("uploaded run artefact", zap.String("bucket", u.bucket), zap.String("key", key))
		keys = append(keys, key)
	}
	return keys, nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".json":
		return "application/json"
	case ".log":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
