package service

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"cloudshare-backend/internal/apperr"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioService implements BlobStore against a MinIO (or any S3 compatible) server
type MinioService struct {
	client *minio.Client
	bucket string
}

// NewMinioService connects to the endpoint and creates the bucket if needed
func NewMinioService(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		log.Printf("Created bucket %s", bucket)
	}

	return &MinioService{client: client, bucket: bucket}, nil
}

func (s *MinioService) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Printf("Error uploading object %s: %v", key, err)
		return apperr.Wrap(apperr.KindBlob, err, "failed to upload file")
	}
	return nil
}

func (s *MinioService) Delete(ctx context.Context, key string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return apperr.Newf(apperr.KindNotFound, "object '%s' not found", key)
		}
		log.Printf("Error checking object %s: %v", key, err)
		return apperr.Wrap(apperr.KindBlob, err, "failed to check file in storage")
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		log.Printf("Error deleting object %s: %v", key, err)
		return apperr.Wrap(apperr.KindBlob, err, "failed to delete file from storage")
	}
	return nil
}

func (s *MinioService) SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		log.Printf("Error generating presigned GET URL for %s: %v", key, err)
		return "", apperr.Wrap(apperr.KindBlob, err, "failed to generate download URL")
	}
	return u.String(), nil
}
