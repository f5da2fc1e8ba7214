// Package photos issues presigned upload URLs for request photos. The core
// never touches photo bytes; the object key it returns is the opaque photoRef
// stored on the request.
package photos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Service struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, ttl time.Duration) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{client: client, bucket: bucket, ttl: ttl}, nil
}

// EnsureBucket creates the photo bucket if it does not exist.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// UploadURL mints a presigned PUT URL and the object key that becomes the
// request's photoRef once the client finishes uploading.
func (s *Service) UploadURL(ctx context.Context) (key string, uploadURL string, err error) {
	key = "photos/" + uuid.NewString()
	presigned, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return key, presigned.String(), nil
}
