package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// S3API is the subset of the S3 client used by the archive sink
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives every change as one JSON object, partitioned by day and item key.
type S3Sink struct {
	client S3API
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Sink creates a new S3 archive sink
func NewS3Sink(client S3API, bucket, prefix string, logger *zap.Logger) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Compile-time interface check
var _ ports.ReplicationSink = (*S3Sink)(nil)

// Replicate writes the record. Redelivered records overwrite the same object.
func (s *S3Sink) Replicate(ctx context.Context, record ports.ReplicationRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return appErrors.NewInternalError("failed to encode replication record").WithCause(err)
	}

	key := s.objectKey(record)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		s.logger.Error("Failed to archive replication record",
			zap.String("bucket", s.bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return appErrors.NewExternalError("s3", err)
	}

	s.logger.Debug("Replication record archived", zap.String("key", key))
	return nil
}

func (s *S3Sink) objectKey(record ports.ReplicationRecord) string {
	return path.Join(
		s.prefix,
		record.ChangedAt.UTC().Format("2006/01/02"),
		url.PathEscape(record.PK),
		url.PathEscape(record.SK),
		fmt.Sprintf("%s.json", record.EventID),
	)
}
